package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"jobtrack/internal"
	"jobtrack/internal/errs"
	"jobtrack/internal/logging"
	"jobtrack/internal/storage"
)

type fakeScanner struct {
	events []internal.RawScanEvent
	err    error
	block  bool
}

func (f *fakeScanner) Provider() string { return "fake" }

func (f *fakeScanner) Scan(ctx context.Context, _ internal.ScanQuery) ([]internal.RawScanEvent, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.events, f.err
}

func (f *fakeScanner) Status(context.Context) (internal.ConnectionStatus, error) {
	return internal.ConnectionStatus{Connected: true, AccountLabel: "me@example.com"}, nil
}

func (f *fakeScanner) Disconnect(context.Context) error { return nil }

type memStore struct {
	mu        sync.Mutex
	apps      []internal.Application
	creates   int
	lists     int
	failList  bool
	createErr error
	onCreate  func()
}

func (m *memStore) List(context.Context, internal.ListFilter) (internal.ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	if m.failList {
		return internal.ListResult{}, errors.New("store down")
	}
	return internal.ListResult{Items: append([]internal.Application(nil), m.apps...)}, nil
}

func (m *memStore) Create(_ context.Context, req internal.ImportRequest) (internal.StoredApplication, error) {
	if m.onCreate != nil {
		m.onCreate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.createErr != nil {
		return internal.StoredApplication{}, m.createErr
	}
	app := internal.Application{ID: int64(len(m.apps) + 1), Company: req.Company, Position: req.Position, Status: req.Status, GmailMessageID: req.GmailMessageID}
	m.apps = append(m.apps, app)
	return internal.StoredApplication{Application: app}, nil
}

var fixedNow = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

func newTestSession(scanner Scanner, store *memStore) *Session {
	return New(context.Background(), scanner, store, Options{Concurrency: 2, Timeout: time.Second, Logger: logging.Discard(), Now: fixedNow})
}

func fiveEvents() []internal.RawScanEvent {
	return []internal.RawScanEvent{
		{"messageId": "m1", "company": "Acme", "title": "Engineer", "subject": "Thanks for applying"},
		{"messageId": "m2", "company": "Globex", "title": "Analyst"},
		{"messageId": "m3", "company": "Initech", "subject": "Unfortunately, we have decided to move forward with other candidates"},
		{"MessageID": "m4", "Company": "Hooli", "Position": "SRE"},
		{"message_id": "m5", "company": "Umbrella"},
	}
}

func TestScanScenario(t *testing.T) {
	store := &memStore{apps: []internal.Application{{ID: 1, GmailMessageID: "m2"}, {ID: 2, GmailMessageID: "m4"}, {ID: 3}}}
	s := newTestSession(&fakeScanner{events: fiveEvents()}, store)

	report, err := s.Scan(context.Background(), internal.ScanQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if report != (ScanReport{Fetched: 5, Duplicates: 2, New: 3, Rejected: 1}) {
		t.Fatalf("report=%+v", report)
	}
	if report.Message() != "Found 3 new emails (2 already imported)" {
		t.Fatalf("message=%q", report.Message())
	}

	rows := s.Staging().Rows()
	if len(rows) != 3 {
		t.Fatalf("rows=%d", len(rows))
	}
	for _, row := range rows {
		if !row.Selected {
			t.Fatalf("row not selected: %+v", row)
		}
		if row.MessageID == "m3" && row.Status != internal.StatusRejected {
			t.Fatalf("m3 status=%q", row.Status)
		}
		if row.MessageID == "m1" && row.Status != internal.StatusApplied {
			t.Fatalf("m1 status=%q", row.Status)
		}
	}
	if store.lists != 1 {
		t.Fatalf("lists=%d", store.lists)
	}
}

func TestScanReportMessages(t *testing.T) {
	cases := map[ScanReport]string{
		{Fetched: 2, New: 2}:        "Found 2 job-related emails",
		{Fetched: 4, Duplicates: 4}: "All 4 emails were already imported",
		{}:                          "No job-related emails found in this date range",
	}
	for report, want := range cases {
		if got := report.Message(); got != want {
			t.Fatalf("got %q want %q", got, want)
		}
	}
}

func TestScanErrorKeepsStaging(t *testing.T) {
	scanner := &fakeScanner{events: fiveEvents()}
	s := newTestSession(scanner, &memStore{})
	if _, err := s.Scan(context.Background(), internal.ScanQuery{}); err != nil {
		t.Fatal(err)
	}

	scanner.err = &errs.ConnectionError{Provider: "fake"}
	if _, err := s.Scan(context.Background(), internal.ScanQuery{}); !errs.IsConnection(err) {
		t.Fatalf("err=%v", err)
	}
	if s.Staging().Len() != 5 {
		t.Fatalf("len=%d", s.Staging().Len())
	}
}

func TestScanStoreFailure(t *testing.T) {
	s := newTestSession(&fakeScanner{events: fiveEvents()}, &memStore{failList: true})
	if _, err := s.Scan(context.Background(), internal.ScanQuery{}); err == nil {
		t.Fatal("expected error")
	}
	if s.Staging().Len() != 0 {
		t.Fatal("staging filled despite failure")
	}
}

func TestSecondScanReplacesStaging(t *testing.T) {
	scanner := &fakeScanner{events: fiveEvents()}
	s := newTestSession(scanner, &memStore{})
	_, _ = s.Scan(context.Background(), internal.ScanQuery{})

	scanner.events = []internal.RawScanEvent{{"messageId": "z1", "company": "Zed"}}
	if _, err := s.Scan(context.Background(), internal.ScanQuery{}); err != nil {
		t.Fatal(err)
	}
	rows := s.Staging().Rows()
	if len(rows) != 1 || rows[0].MessageID != "z1" {
		t.Fatalf("rows=%+v", rows)
	}
}

func TestCommitEmptySelectionKeepsStaging(t *testing.T) {
	store := &memStore{}
	s := newTestSession(&fakeScanner{events: fiveEvents()}, store)
	_, _ = s.Scan(context.Background(), internal.ScanQuery{})
	s.Staging().SelectByStatus(internal.StatusOffer)

	_, err := s.Commit(context.Background())
	if !errs.IsValidation(err) {
		t.Fatalf("err=%v", err)
	}
	if store.creates != 0 {
		t.Fatalf("creates=%d", store.creates)
	}
	if s.Staging().Len() != 5 {
		t.Fatalf("staging cleared: %d", s.Staging().Len())
	}
}

func TestCommitClearsAndRefreshes(t *testing.T) {
	store := &memStore{}
	s := newTestSession(&fakeScanner{events: fiveEvents()}, store)
	_, _ = s.Scan(context.Background(), internal.ScanQuery{})

	result, err := s.Commit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Attempted != 5 || result.Succeeded != 5 {
		t.Fatalf("result=%+v", result)
	}
	if CommitMessage(result) != "Import complete! 5 job(s) processed. 0 failed." {
		t.Fatalf("message=%q", CommitMessage(result))
	}
	if s.Staging().Len() != 0 {
		t.Fatal("staging not cleared")
	}
	if len(s.Applications().Items) != 5 {
		t.Fatalf("apps=%d", len(s.Applications().Items))
	}
}

func TestCommitAllFailedStillClears(t *testing.T) {
	store := &memStore{createErr: errors.New("boom")}
	s := newTestSession(&fakeScanner{events: fiveEvents()}, store)
	_, _ = s.Scan(context.Background(), internal.ScanQuery{})

	result, err := s.Commit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed != 5 || result.Succeeded != 0 {
		t.Fatalf("result=%+v", result)
	}
	if s.Staging().Len() != 0 {
		t.Fatal("staging not cleared")
	}
}

func TestCommitKeepsRowsOfNewerScan(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	store := &memStore{onCreate: func() {
		once.Do(func() { close(entered) })
		<-release
	}}
	scanner := &fakeScanner{events: fiveEvents()}
	s := newTestSession(scanner, store)
	if _, err := s.Scan(context.Background(), internal.ScanQuery{}); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Commit(context.Background())
		done <- err
	}()
	<-entered

	scanner.events = []internal.RawScanEvent{
		{"messageId": "n1", "company": "Soylent"},
		{"messageId": "n2", "company": "Tyrell"},
	}
	if _, err := s.Scan(context.Background(), internal.ScanQuery{}); err != nil {
		t.Fatal(err)
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if n := s.Staging().Len(); n != 2 {
		t.Fatalf("staging rows=%d, want the 2 rows of the newer scan", n)
	}
}

func TestCloseCancelsScan(t *testing.T) {
	s := newTestSession(&fakeScanner{block: true}, &memStore{})
	errc := make(chan error, 1)
	go func() {
		_, err := s.Scan(context.Background(), internal.ScanQuery{})
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	s.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scan not canceled")
	}
}

func TestResubmissionIsIdempotent(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "jobtrack.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s := New(context.Background(), &fakeScanner{events: fiveEvents()}, db, Options{Runs: db, Logger: logging.Discard(), Now: fixedNow})
	if _, err := s.Scan(context.Background(), internal.ScanQuery{}); err != nil {
		t.Fatal(err)
	}
	staged := s.Staging().Rows()

	first, err := s.Commit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first.Succeeded != 5 || first.Duplicates != 0 {
		t.Fatalf("first=%+v", first)
	}

	events := make([]internal.JobEvent, 0, len(staged))
	for _, row := range staged {
		events = append(events, row.JobEvent)
	}
	s.Staging().Replace(events)
	second, err := s.Commit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if second.Succeeded != 5 || second.Duplicates != 5 {
		t.Fatalf("second=%+v", second)
	}

	res, err := db.List(context.Background(), internal.ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 5 {
		t.Fatalf("items=%d", len(res.Items))
	}

	report, err := s.Scan(context.Background(), internal.ScanQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if report.New != 0 || report.Duplicates != 5 {
		t.Fatalf("report=%+v", report)
	}

	runs, err := db.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 4 || runs[0].TraceID != s.ID {
		t.Fatalf("runs=%+v", runs)
	}
}
