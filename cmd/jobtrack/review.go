package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"jobtrack/internal"
	"jobtrack/internal/errs"
	"jobtrack/internal/session"
	"jobtrack/internal/staging"
	"jobtrack/internal/util"
)

const reviewHelp = `commands:
  ls                          list visible rows
  search <text>               filter by company, title, subject or snippet (empty clears)
  filter <status|all>         filter by status
  sel <i>...  unsel <i>...    change selection
  all                         toggle selection of every visible row
  pick <status>               select exactly the rows with status
  mark <status>               set status on every selected row
  set <i> company|title|status|date <value>
  show <i>                    toggle details of a row
  commit                      import the selected rows
  cancel                      leave without importing
`

// reviewer drives the staging set of one session from a line based prompt.
type reviewer struct {
	sess *session.Session
	out  io.Writer
	view staging.View
}

// errCanceled ends the review without an import.
var errCanceled = errors.New("review canceled")

func runReview(ctx context.Context, sess *session.Session, in io.Reader, out io.Writer) (internal.CommitResult, error) {
	r := &reviewer{sess: sess, out: out}
	r.list()

	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return internal.CommitResult{}, err
			}
			sess.Discard()
			return internal.CommitResult{}, errCanceled
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}

		cmd, args := fields[0], fields[1:]
		switch cmd {
		case "commit":
			result, err := sess.Commit(ctx)
			if errs.IsValidation(err) {
				fmt.Fprintf(out, "%v\n", err)
				continue
			}
			if err != nil {
				return result, err
			}
			fmt.Fprintln(out, session.CommitMessage(result))
			for _, f := range result.Failures {
				fmt.Fprintf(out, "  failed %s: %s\n", util.FirstNonEmpty(f.Company, f.GmailMessageID), f.Error)
			}
			return result, nil
		case "cancel", "quit", "q":
			sess.Discard()
			return internal.CommitResult{}, errCanceled
		default:
			if err := r.exec(cmd, args); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}

func (r *reviewer) exec(cmd string, args []string) error {
	set := r.sess.Staging()
	switch cmd {
	case "help", "?":
		fmt.Fprint(r.out, reviewHelp)
	case "ls":
		r.list()
	case "search":
		r.view.Query = strings.Join(args, " ")
		r.list()
	case "filter":
		if len(args) != 1 {
			return fmt.Errorf("usage: filter <status|all>")
		}
		if strings.EqualFold(args[0], internal.StatusAll) {
			r.view.Status = internal.StatusAll
		} else {
			status, err := parseStatus(args[0])
			if err != nil {
				return err
			}
			r.view.Status = status
		}
		r.list()
	case "sel", "unsel":
		if len(args) == 0 {
			return fmt.Errorf("usage: %s <i>...", cmd)
		}
		selected := cmd == "sel"
		for _, arg := range args {
			i, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("bad row %q", arg)
			}
			if err := set.SetField(i, staging.RowPatch{Selected: &selected}); err != nil {
				return err
			}
		}
		r.footer()
	case "all":
		set.ToggleSelectAllVisible(r.view)
		r.footer()
	case "pick", "mark":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <status>", cmd)
		}
		status, err := parseStatus(args[0])
		if err != nil {
			return err
		}
		if cmd == "pick" {
			fmt.Fprintf(r.out, "selected %d row(s) with status %s\n", set.SelectByStatus(status), status)
		} else {
			fmt.Fprintf(r.out, "marked %d row(s) as %s\n", set.BulkSetStatus(status), status)
		}
	case "set":
		if len(args) < 3 {
			return fmt.Errorf("usage: set <i> company|title|status|date <value>")
		}
		i, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("bad row %q", args[0])
		}
		patch, err := fieldPatch(args[1], strings.Join(args[2:], " "))
		if err != nil {
			return err
		}
		return set.SetField(i, patch)
	case "show":
		if len(args) != 1 {
			return fmt.Errorf("usage: show <i>")
		}
		i, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("bad row %q", args[0])
		}
		row, ok := set.Row(i)
		if !ok {
			return fmt.Errorf("row %d out of range", i)
		}
		expanded := !row.Expanded
		if err := set.SetField(i, staging.RowPatch{Expanded: &expanded}); err != nil {
			return err
		}
		if expanded {
			fmt.Fprintf(r.out, "subject: %s\nsnippet: %s\nlink:    %s\n", row.Subject, row.Snippet, row.Link)
		}
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	return nil
}

func (r *reviewer) list() {
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\t#\tSTATUS\tAPPLIED\tCOMPANY\tTITLE")
	for i, row := range r.sess.Staging().FilteredView(r.view) {
		mark := "[ ]"
		if row.Selected {
			mark = "[x]"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n", mark, i, row.Status, row.AppliedDate.Format(internal.DateLayout),
			util.Truncate(row.Company, 30), util.Truncate(row.Title, 40))
	}
	_ = tw.Flush()
	r.footer()
}

func (r *reviewer) footer() {
	c := r.sess.Staging().Counts(r.view)
	fmt.Fprintf(r.out, "%d selected, %d visible, %d total\n", c.Selected, c.Visible, c.Total)
}

func fieldPatch(field, value string) (staging.RowPatch, error) {
	value = strings.TrimSpace(value)
	switch field {
	case "company":
		return staging.RowPatch{Company: &value}, nil
	case "title":
		return staging.RowPatch{Title: &value}, nil
	case "status":
		status, err := parseStatus(value)
		if err != nil {
			return staging.RowPatch{}, err
		}
		return staging.RowPatch{Status: &status}, nil
	case "date":
		t, err := time.Parse(internal.DateLayout, value)
		if err != nil {
			return staging.RowPatch{}, fmt.Errorf("date must be %s", internal.DateLayout)
		}
		return staging.RowPatch{AppliedDate: &t}, nil
	default:
		return staging.RowPatch{}, fmt.Errorf("unknown field %q", field)
	}
}

func parseStatus(value string) (internal.Status, error) {
	status, ok := internal.ParseStatus(value)
	if !ok {
		return "", fmt.Errorf("unknown status %q", value)
	}
	return status, nil
}
