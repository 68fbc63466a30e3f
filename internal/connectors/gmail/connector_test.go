package gmail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/api/option"

	"jobtrack/internal"
	"jobtrack/internal/config"
	"jobtrack/internal/errs"
)

type memStore map[string]string

func (m memStore) GetMetadata(key string) (*string, error) {
	v, ok := m[key]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m memStore) SetMetadata(key, value string) error {
	m[key] = value
	return nil
}

func (m memStore) DeleteMetadata(key string) error {
	delete(m, key)
	return nil
}

func testConfig() config.Config {
	return config.Config{GmailClientID: "id", GmailClientSecret: "secret"}
}

func newFakeGmail(t *testing.T, messages map[string]string, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var gets atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"code":401,"message":"invalid credentials"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"emailAddress":"me@example.com"}`))
	})
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"code":401,"message":"invalid credentials"}}`))
			return
		}
		q := r.URL.Query().Get("q")
		if !strings.Contains(q, "after:2024/03/01") || !strings.Contains(q, "before:2024/03/08") {
			t.Errorf("q=%s", q)
		}
		type ref struct {
			ID string `json:"id"`
		}
		var refs []ref
		for id := range messages {
			refs = append(refs, ref{ID: id})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"messages": refs})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/", func(w http.ResponseWriter, r *http.Request) {
		gets.Add(1)
		id := strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/messages/")
		body, ok := messages[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &gets
}

func newTestConnector(t *testing.T, srv *httptest.Server, store memStore) *Connector {
	t.Helper()
	c, err := NewConnector(testConfig(), store,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestBuildQueryInclusiveUntil(t *testing.T) {
	q := BuildQuery(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC))
	if !strings.HasSuffix(q, " after:2024/03/01 before:2024/03/08") {
		t.Fatalf("q=%s", q)
	}
	if !strings.Contains(q, `subject:"we regret"`) || !strings.Contains(q, "from:greenhouse.io") {
		t.Fatalf("q=%s", q)
	}
}

func TestScanReturnsNewestFirst(t *testing.T) {
	messages := map[string]string{
		"old": `{"id":"old","snippet":"We received it","internalDate":"1709287200000","payload":{"headers":[
			{"name":"Subject","value":"Your application to Globex for Backend Engineer"},
			{"name":"From","value":"no-reply@greenhouse.io"}]}}`,
		"new": `{"id":"new","snippet":"Unfortunately we went another way","internalDate":"1709719200000","payload":{"headers":[
			{"name":"Subject","value":"Update from Acme"},
			{"name":"From","value":"Acme Careers <careers@mail.acme.com>"}]}}`,
	}
	srv, gets := newFakeGmail(t, messages, http.StatusOK)
	c := newTestConnector(t, srv, memStore{tokenKey: "refresh"})

	events, err := c.Scan(context.Background(), internal.ScanQuery{
		Since:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Until:      time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC),
		MaxResults: 50,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || gets.Load() != 2 {
		t.Fatalf("events=%d gets=%d", len(events), gets.Load())
	}

	first := events[0]
	if first["messageId"] != "new" || first["company"] != "Acme" || first["status"] != "applied" {
		t.Fatalf("first=%v", first)
	}
	if first["link"] != "https://mail.google.com/mail/u/0/#all/new" {
		t.Fatalf("link=%v", first["link"])
	}
	second := events[1]
	if second["company"] != "Globex" || second["title"] != "Backend Engineer" {
		t.Fatalf("second=%v", second)
	}
	if _, ok := second["appliedDate"].(time.Time); !ok {
		t.Fatalf("appliedDate=%T", second["appliedDate"])
	}
}

func TestStatusAndDisconnect(t *testing.T) {
	srv, _ := newFakeGmail(t, nil, http.StatusOK)
	store := memStore{}
	c := newTestConnector(t, srv, store)

	st, err := c.Status(context.Background())
	if err != nil || st.Connected {
		t.Fatalf("st=%+v err=%v", st, err)
	}

	if err := c.StoreRefreshToken("refresh"); err != nil {
		t.Fatal(err)
	}
	st, err = c.Status(context.Background())
	if err != nil || !st.Connected || st.AccountLabel != "me@example.com" {
		t.Fatalf("st=%+v err=%v", st, err)
	}

	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := store[tokenKey]; ok {
		t.Fatal("token kept after disconnect")
	}
	_, err = c.Scan(context.Background(), internal.ScanQuery{})
	if !errs.IsConnection(err) {
		t.Fatalf("err=%v", err)
	}
}

func TestDisconnectOverridesConfiguredToken(t *testing.T) {
	srv, _ := newFakeGmail(t, nil, http.StatusOK)
	cfg := testConfig()
	cfg.GmailRefreshToken = "from-env"
	store := memStore{}
	c, err := NewConnector(cfg, store, option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}

	if st, _ := c.Status(context.Background()); !st.Connected {
		t.Fatal("env token should connect")
	}
	_ = c.Disconnect(context.Background())
	if st, _ := c.Status(context.Background()); st.Connected {
		t.Fatal("still connected after disconnect")
	}
}

func TestUnauthorizedIsConnectionError(t *testing.T) {
	srv, _ := newFakeGmail(t, nil, http.StatusUnauthorized)
	c := newTestConnector(t, srv, memStore{tokenKey: "refresh"})

	st, err := c.Status(context.Background())
	if err != nil || st.Connected {
		t.Fatalf("st=%+v err=%v", st, err)
	}
	_, err = c.Scan(context.Background(), internal.ScanQuery{
		Since: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Until: time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC),
	})
	if !errs.IsConnection(err) {
		t.Fatalf("err=%v", err)
	}
}
