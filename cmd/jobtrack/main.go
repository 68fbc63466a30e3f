package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"jobtrack/internal"
	"jobtrack/internal/config"
	"jobtrack/internal/connectors"
	gmailconnector "jobtrack/internal/connectors/gmail"
	"jobtrack/internal/logging"
	"jobtrack/internal/pipeline"
	"jobtrack/internal/session"
	"jobtrack/internal/storage"
	"jobtrack/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	log := logging.New(cfg)

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	switch cmd {
	case "mail:status":
		scanner := newScanner(cfg, db, log)
		status, err := scanner.Status(ctx)
		must(err)
		if !status.Connected {
			fmt.Printf("%s: not connected\n", scanner.Provider())
			return
		}
		fmt.Printf("%s: connected as %s\n", scanner.Provider(), status.AccountLabel)
	case "mail:connect":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		code := fs.String("code", "", "authorization code from the consent page")
		token := fs.String("token", "", "refresh token to store as is")
		_ = fs.Parse(os.Args[2:])
		if cfg.MailProvider != "" && cfg.MailProvider != "gmail" {
			must(fmt.Errorf("mail:connect only applies to MAIL_PROVIDER=gmail"))
		}
		conn, err := gmailconnector.NewConnector(cfg, db)
		must(err)
		switch {
		case strings.TrimSpace(*token) != "":
			must(conn.StoreRefreshToken(*token))
		case strings.TrimSpace(*code) != "":
			must(conn.Connect(ctx, *code))
		default:
			fmt.Printf("open this URL, approve access and rerun with --code:\n%s\n", conn.AuthURL("jobtrack"))
			return
		}
		status, err := conn.Status(ctx)
		must(err)
		fmt.Printf("gmail connected as %s\n", status.AccountLabel)
	case "mail:disconnect":
		scanner := newScanner(cfg, db, log)
		must(scanner.Disconnect(ctx))
		fmt.Printf("%s disconnected\n", scanner.Provider())
	case "mail:scan":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		q := scanFlags(fs, cfg)
		out := fs.String("out", "", "review xlsx path (default OUTPUT_DIR/review/<session>.xlsx)")
		_ = fs.Parse(os.Args[2:])
		sess := newSession(ctx, cfg, db, log)
		defer sess.Close()
		report, err := sess.Scan(ctx, q())
		must(err)
		fmt.Println(report.Message())
		if report.New == 0 {
			return
		}
		path := *out
		if strings.TrimSpace(path) == "" {
			path = filepath.Join(cfg.OutputDir, "review", "review_"+sess.ID[:8]+".xlsx")
		}
		must(pipeline.ExportReviewXLSX(sess.Staging().Rows(), path))
		fmt.Printf("exported %d rows to %s\n", report.New, path)
	case "import":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		q := scanFlags(fs, cfg)
		_ = fs.Parse(os.Args[2:])
		sess := newSession(ctx, cfg, db, log)
		defer sess.Close()
		report, err := sess.Scan(ctx, q())
		must(err)
		fmt.Println(report.Message())
		if report.New == 0 {
			return
		}
		_, err = runReview(ctx, sess, os.Stdin, os.Stdout)
		if errors.Is(err, errCanceled) {
			fmt.Println("nothing imported")
			return
		}
		must(err)
	case "jobs:list":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		status := fs.String("status", "", "status filter")
		company := fs.String("company", "", "company substring")
		search := fs.String("search", "", "company, position or notes substring")
		limit := fs.Int("limit", 0, "max rows (0 = all)")
		_ = fs.Parse(os.Args[2:])
		res, err := tracker.NewStore(cfg, db).List(ctx, internal.ListFilter{
			Status:  *status,
			Company: *company,
			Search:  *search,
			Limit:   *limit,
		})
		must(err)
		printApplications(res)
	case "jobs:export":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		out := fs.String("out", "", "output xlsx path")
		status := fs.String("status", "", "status filter")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--out is required"))
		}
		res, err := tracker.NewStore(cfg, db).List(ctx, internal.ListFilter{Status: *status})
		must(err)
		must(pipeline.ExportApplicationsXLSX(res, *out))
		fmt.Printf("exported %d applications to %s\n", len(res.Items), *out)
	case "tracker:pull":
		svc := tracker.NewSyncService(db, cfg, log)
		count, err := svc.Pull(ctx)
		must(err)
		fmt.Printf("tracker pull complete: %d applications\n", count)
	case "runs:list":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		limit := fs.Int("limit", 20, "max runs")
		_ = fs.Parse(os.Args[2:])
		runs, err := db.ListRuns(ctx, *limit)
		must(err)
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tTRACE\tCREATED\tCOUNTS")
		for _, run := range runs {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%v\n", run.ID, run.Kind, run.TraceID, run.CreatedAt.Format(time.DateTime), run.Counts)
		}
		_ = tw.Flush()
	default:
		usage()
		os.Exit(1)
	}
}

func newScanner(cfg config.Config, db *storage.DB, log logrus.FieldLogger) *connectors.ScanService {
	conn, err := connectors.New(cfg, db)
	must(err)
	return connectors.NewScanService(conn, log)
}

func newSession(ctx context.Context, cfg config.Config, db *storage.DB, log logrus.FieldLogger) *session.Session {
	return session.New(ctx, newScanner(cfg, db, log), tracker.NewStore(cfg, db), session.Options{
		Concurrency: cfg.ImportConcurrency,
		Timeout:     time.Duration(cfg.ImportTimeoutMs) * time.Millisecond,
		Runs:        db,
		Logger:      log,
	})
}

// scanFlags registers the date range flags. The returned func is called
// after Parse.
func scanFlags(fs *flag.FlagSet, cfg config.Config) func() internal.ScanQuery {
	since := fs.String("since", "", "first day to scan, YYYY-MM-DD (default SCAN_LOOKBACK_DAYS ago)")
	until := fs.String("until", "", "last day to scan, YYYY-MM-DD (default today)")
	maxResults := fs.Int("max", cfg.ScanMaxResults, "max messages")
	return func() internal.ScanQuery {
		now := time.Now().UTC()
		q := internal.ScanQuery{
			Since:      now.AddDate(0, 0, -cfg.ScanLookbackDays),
			Until:      now,
			MaxResults: *maxResults,
		}
		if *since != "" {
			t, err := time.Parse(internal.DateLayout, *since)
			must(err)
			q.Since = t
		}
		if *until != "" {
			t, err := time.Parse(internal.DateLayout, *until)
			must(err)
			q.Until = t
		}
		if q.Until.Before(q.Since) {
			must(fmt.Errorf("--until is before --since"))
		}
		return q
	}
}

func printApplications(res internal.ListResult) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tAPPLIED\tCOMPANY\tPOSITION")
	for _, app := range res.Items {
		applied := ""
		if app.AppliedDate != nil {
			applied = app.AppliedDate.Format(internal.DateLayout)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", app.ID, app.Status, applied, app.Company, app.Position)
	}
	_ = tw.Flush()

	parts := make([]string, 0, len(internal.AllStatuses))
	for _, status := range internal.AllStatuses {
		parts = append(parts, fmt.Sprintf("%s=%d", status, res.Counts[status]))
	}
	fmt.Printf("%d shown; %s\n", len(res.Items), strings.Join(parts, " "))
}

func usage() {
	fmt.Println("usage:")
	fmt.Println("  jobtrack mail:status")
	fmt.Println("  jobtrack mail:connect [--code <code> | --token <refresh_token>]")
	fmt.Println("  jobtrack mail:disconnect")
	fmt.Println("  jobtrack mail:scan [--since YYYY-MM-DD] [--until YYYY-MM-DD] [--max 500] [--out review.xlsx]")
	fmt.Println("  jobtrack import [--since YYYY-MM-DD] [--until YYYY-MM-DD] [--max 500]")
	fmt.Println("  jobtrack jobs:list [--status applied] [--company acme] [--search text] [--limit 50]")
	fmt.Println("  jobtrack jobs:export --out applications.xlsx [--status applied]")
	fmt.Println("  jobtrack tracker:pull")
	fmt.Println("  jobtrack runs:list [--limit 20]")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
