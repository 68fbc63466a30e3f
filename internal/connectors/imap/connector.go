package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"jobtrack/internal"
	"jobtrack/internal/config"
	"jobtrack/internal/errs"
	"jobtrack/internal/pipeline"
)

const (
	providerName      = "imap"
	defaultMaxResults = 500
)

type Connector struct {
	host     string
	port     int
	secure   bool
	user     string
	password string
	folder   string
}

func NewConnector(cfg config.Config) (*Connector, error) {
	if err := cfg.Require("IMAP_HOST", cfg.IMAPHost); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_USER", cfg.IMAPUser); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_PASSWORD", cfg.IMAPPassword); err != nil {
		return nil, err
	}

	folder := cfg.IMAPFolder
	if strings.TrimSpace(folder) == "" {
		folder = "INBOX"
	}
	return &Connector{
		host:     cfg.IMAPHost,
		port:     cfg.IMAPPort,
		secure:   cfg.IMAPSecure,
		user:     cfg.IMAPUser,
		password: cfg.IMAPPassword,
		folder:   folder,
	}, nil
}

func (c *Connector) Name() string { return providerName }

// dial logs in and closes the connection when ctx ends. The returned func
// releases both.
func (c *Connector) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	var client *imapclient.Client
	var err error
	if c.secure {
		client, err = imapclient.DialTLS(addr, &tls.Config{ServerName: c.host})
	} else {
		client, err = imapclient.Dial(addr)
	}
	if err != nil {
		return nil, nil, err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Terminate()
		case <-done:
		}
	}()
	release := func() {
		close(done)
		_ = client.Logout()
	}

	if err := client.Login(c.user, c.password); err != nil {
		release()
		return nil, nil, &errs.ConnectionError{Provider: providerName, Reason: "login failed", Err: err}
	}
	return client, release, nil
}

func (c *Connector) Status(ctx context.Context) (internal.ConnectionStatus, error) {
	_, release, err := c.dial(ctx)
	if errs.IsConnection(err) {
		return internal.ConnectionStatus{}, nil
	}
	if err != nil {
		return internal.ConnectionStatus{}, err
	}
	release()
	return internal.ConnectionStatus{Connected: true, AccountLabel: c.user}, nil
}

// Disconnect has nothing to revoke; IMAP credentials live in the config.
func (c *Connector) Disconnect(context.Context) error { return nil }

func (c *Connector) Scan(ctx context.Context, q internal.ScanQuery) ([]internal.RawScanEvent, error) {
	client, release, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := client.Select(c.folder, true); err != nil {
		return nil, err
	}

	ids, err := client.Search(searchCriteria(q))
	if err != nil {
		return nil, err
	}
	ids = newest(ids, q.MaxResults)
	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}
	messages := make(chan *imap.Message, len(ids))
	fetchDone := make(chan error, 1)
	go func() { fetchDone <- client.Fetch(seqset, items, messages) }()

	type scanned struct {
		ev       internal.RawScanEvent
		received time.Time
	}
	var out []scanned
	for msg := range messages {
		if msg == nil {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			continue
		}
		ev, received, ok := toRawEvent(raw, msg.Uid, msg.InternalDate)
		if ok {
			out = append(out, scanned{ev: ev, received: received})
		}
	}
	if err := <-fetchDone; err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].received.After(out[j].received) })
	events := make([]internal.RawScanEvent, 0, len(out))
	for _, s := range out {
		events = append(events, s.ev)
	}
	return events, nil
}

func searchCriteria(q internal.ScanQuery) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	if !q.Since.IsZero() {
		criteria.Since = q.Since
	}
	if !q.Until.IsZero() {
		criteria.Before = q.Until.AddDate(0, 0, 1)
	}
	return criteria
}

// newest keeps the last limit sequence numbers, which are the most recent
// arrivals.
func newest(ids []uint32, limit int) []uint32 {
	if limit <= 0 {
		limit = defaultMaxResults
	}
	sorted := append([]uint32(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	return sorted
}

// toRawEvent parses one message and keeps it only when it reads like job
// mail. Keys follow the IMAP naming, which the normalizer reconciles.
func toRawEvent(raw []byte, uid uint32, internalDate time.Time) (internal.RawScanEvent, time.Time, bool) {
	msg, err := pipeline.ParseRawMessage(raw)
	if err != nil {
		return nil, time.Time{}, false
	}
	if !pipeline.DetectJobEmail(msg.Subject, msg.From, msg.Text).IsJob {
		return nil, time.Time{}, false
	}

	received := internalDate
	if received.IsZero() {
		received = msg.Date
	}
	id := msg.MessageID
	if id == "" {
		id = fmt.Sprintf("imap-%d", uid)
	}

	ev := internal.RawScanEvent{
		"MessageID": id,
		"Subject":   msg.Subject,
		"Snippet":   msg.Snippet(),
		"Company":   pipeline.ExtractCompany(msg.Subject, msg.From),
		"Position":  pipeline.ExtractTitle(msg.Subject),
		"Status":    string(internal.StatusApplied),
	}
	if !received.IsZero() {
		ev["AppliedDate"] = received.UTC().Format(time.RFC3339)
	}
	return ev, received, true
}
