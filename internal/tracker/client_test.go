package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"jobtrack/internal"
	"jobtrack/internal/config"
	"jobtrack/internal/errs"
	"jobtrack/internal/logging"
	"jobtrack/internal/storage"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func testConfig() config.Config {
	return config.Config{
		TrackerAPIToken:     "test",
		TrackerAPIBaseURL:   "https://example.test/api",
		TrackerRateLimitRPS: 1000,
		TrackerTimeoutMs:    1000,
	}
}

func newTestClient(fn roundTripFunc) *Client {
	client := NewClient(testConfig())
	client.httpClient = &http.Client{Transport: fn}
	return client
}

func TestListWithRetry(t *testing.T) {
	attempt := 0
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/api/jobs" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("status"); got != "applied" {
			t.Fatalf("status=%q", got)
		}
		if r.Header.Get("Authorization") != "Bearer test" {
			t.Fatalf("auth=%q", r.Header.Get("Authorization"))
		}
		attempt++
		if attempt == 1 {
			return jsonResponse(http.StatusServiceUnavailable, `{"error":"busy"}`), nil
		}
		return jsonResponse(http.StatusOK, `{
			"jobs": [
				{"id": 7, "company": "Acme", "position": "Engineer", "status": "applied", "gmail_message_id": "m1", "applied_date": "2024-05-01T00:00:00Z"},
				{"id": 8, "company": "Globex", "position": "Analyst", "status": "applied"}
			],
			"stats": {"applied": 2, "rejected": 4, "total": 6}
		}`), nil
	})

	res, err := client.List(context.Background(), internal.ListFilter{Status: "applied"})
	if err != nil {
		t.Fatal(err)
	}
	if attempt != 2 {
		t.Fatalf("attempts=%d", attempt)
	}
	if len(res.Items) != 2 || res.Items[0].GmailMessageID != "m1" || res.Items[0].AppliedDate == nil {
		t.Fatalf("items=%+v", res.Items)
	}
	if res.Counts[internal.StatusRejected] != 4 || res.Counts[internal.StatusOffer] != 0 {
		t.Fatalf("counts=%v", res.Counts)
	}
}

func TestCreatePostsImportRequest(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPost {
			t.Fatalf("method=%s", r.Method)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body["company"] != "Acme" || body["applied_date"] != "2024-05-01T00:00:00Z" || body["gmail_message_id"] != "m1" {
			t.Fatalf("body=%v", body)
		}
		return jsonResponse(http.StatusCreated, `{"id": 42, "company": "Acme", "position": "Engineer", "status": "applied", "gmail_message_id": "m1"}`), nil
	})

	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	stored, err := client.Create(context.Background(), internal.ImportRequest{
		Company: "Acme", Position: "Engineer", Status: internal.StatusApplied, AppliedDate: &date, GmailMessageID: "m1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if stored.ID != 42 || stored.Duplicate {
		t.Fatalf("stored=%+v", stored)
	}
}

func TestCreateErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusBadRequest, errs.IsValidation},
		{http.StatusUnprocessableEntity, errs.IsValidation},
		{http.StatusUnauthorized, errs.IsConnection},
		{http.StatusForbidden, errs.IsConnection},
		{http.StatusNotFound, func(err error) bool { return err != nil && !errs.IsValidation(err) && !errs.IsConnection(err) }},
	}
	for _, tc := range cases {
		client := newTestClient(func(*http.Request) (*http.Response, error) {
			return jsonResponse(tc.status, `{"error":"nope"}`), nil
		})
		_, err := client.Create(context.Background(), internal.ImportRequest{Company: "Acme", Position: "Engineer", Status: internal.StatusApplied})
		if !tc.check(err) {
			t.Fatalf("status %d: err=%v", tc.status, err)
		}
	}
}

func TestCreateConflictIsDuplicate(t *testing.T) {
	client := newTestClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusConflict, `{"error":"exists"}`), nil
	})
	stored, err := client.Create(context.Background(), internal.ImportRequest{Company: "Acme", Position: "Engineer", Status: internal.StatusApplied, GmailMessageID: "m1"})
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Duplicate || stored.GmailMessageID != "m1" {
		t.Fatalf("stored=%+v", stored)
	}
}

func TestMissingToken(t *testing.T) {
	cfg := testConfig()
	cfg.TrackerAPIToken = ""
	_, err := NewClient(cfg).List(context.Background(), internal.ListFilter{})
	if err == nil || !strings.Contains(err.Error(), "TRACKER_API_TOKEN") {
		t.Fatalf("err=%v", err)
	}
}

func TestCanceledContextStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	client := newTestClient(func(*http.Request) (*http.Response, error) {
		calls++
		cancel()
		return jsonResponse(http.StatusBadGateway, ``), nil
	})
	_, err := client.List(ctx, internal.ListFilter{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d", calls)
	}
}

func TestSyncPull(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "jobtrack.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	svc := NewSyncService(db, testConfig(), logging.Discard())
	svc.client.httpClient = &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"jobs":[{"id":1,"company":"Acme","position":"Engineer","status":"offer","gmail_message_id":"m1"}],"stats":{"offer":1}}`), nil
	})}

	n, err := svc.Pull(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("n=%d", n)
	}
	if _, ok := svc.LastPull(); !ok {
		t.Fatal("last pull not recorded")
	}

	app, err := db.GetApplicationByMessageID(context.Background(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	if app == nil || app.Status != internal.StatusOffer {
		t.Fatalf("app=%+v", app)
	}
}

func TestNewStoreFollowsBackend(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "jobtrack.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	cfg := testConfig()
	if _, ok := NewStore(cfg, db).(*storage.DB); !ok {
		t.Fatal("default backend should be the local database")
	}
	cfg.StoreBackend = "remote"
	if _, ok := NewStore(cfg, db).(*Client); !ok {
		t.Fatal("remote backend should be the tracker client")
	}
}

func TestCreateRetriesOnlyWithMessageID(t *testing.T) {
	cases := []struct {
		name      string
		messageID string
		wantCalls int
	}{
		{name: "with message id", messageID: "m1", wantCalls: 2},
		{name: "without message id", messageID: "", wantCalls: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			client := newTestClient(func(*http.Request) (*http.Response, error) {
				calls++
				if calls == 1 {
					return jsonResponse(http.StatusBadGateway, ``), nil
				}
				return jsonResponse(http.StatusCreated, `{"id": 1, "company": "Acme", "position": "Engineer", "status": "applied"}`), nil
			})
			_, err := client.Create(context.Background(), internal.ImportRequest{
				Company: "Acme", Position: "Engineer", Status: internal.StatusApplied, GmailMessageID: tc.messageID,
			})
			if calls != tc.wantCalls {
				t.Fatalf("calls=%d want %d", calls, tc.wantCalls)
			}
			if tc.messageID == "" && err == nil {
				t.Fatal("expected the 502 to surface")
			}
			if tc.messageID != "" && err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestCreateWithoutMessageIDStillRetries429(t *testing.T) {
	calls := 0
	client := newTestClient(func(*http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return jsonResponse(http.StatusTooManyRequests, ``), nil
		}
		return jsonResponse(http.StatusCreated, `{"id": 1, "company": "Acme", "position": "Engineer", "status": "applied"}`), nil
	})
	if _, err := client.Create(context.Background(), internal.ImportRequest{Company: "Acme", Position: "Engineer", Status: internal.StatusApplied}); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("calls=%d", calls)
	}
}
