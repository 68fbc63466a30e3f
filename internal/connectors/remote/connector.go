package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"jobtrack/internal"
	"jobtrack/internal/config"
	"jobtrack/internal/errs"
)

const providerName = "remote"

// Connector reads events from a scan API that owns the mailbox connection.
type Connector struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type scanPayload struct {
	Events json.RawMessage `json:"events"`
}

type statusPayload struct {
	Connected bool   `json:"connected"`
	Email     string `json:"email"`
}

func NewConnector(cfg config.Config) (*Connector, error) {
	if err := cfg.Require("SCAN_API_BASE_URL", cfg.ScanAPIBaseURL); err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.ScanTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Connector{
		baseURL:    strings.TrimRight(cfg.ScanAPIBaseURL, "/") + "/",
		token:      cfg.ScanAPIToken,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Connector) Name() string { return providerName }

func (c *Connector) Scan(ctx context.Context, q internal.ScanQuery) ([]internal.RawScanEvent, error) {
	params := url.Values{}
	if !q.Since.IsZero() {
		params.Set("since", q.Since.UTC().Format(internal.DateLayout))
	}
	if !q.Until.IsZero() {
		params.Set("until", q.Until.UTC().Format(internal.DateLayout))
	}
	if q.MaxResults > 0 {
		params.Set("limit", strconv.Itoa(q.MaxResults))
	}

	body, err := c.do(ctx, http.MethodGet, "google/scan", params)
	if err != nil {
		return nil, err
	}
	return decodeEvents(body), nil
}

// decodeEvents treats anything but an array of objects under "events" as an
// empty scan.
func decodeEvents(body []byte) []internal.RawScanEvent {
	var payload scanPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	raw := bytes.TrimSpace(payload.Events)
	if len(raw) == 0 || raw[0] != '[' {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	events := make([]internal.RawScanEvent, 0, len(items))
	for _, item := range items {
		dec := json.NewDecoder(bytes.NewReader(item))
		dec.UseNumber()
		var ev map[string]any
		if err := dec.Decode(&ev); err != nil || ev == nil {
			continue
		}
		events = append(events, internal.RawScanEvent(ev))
	}
	return events
}

func (c *Connector) Status(ctx context.Context) (internal.ConnectionStatus, error) {
	body, err := c.do(ctx, http.MethodGet, "google/status", nil)
	if errs.IsConnection(err) {
		return internal.ConnectionStatus{}, nil
	}
	if err != nil {
		return internal.ConnectionStatus{}, err
	}
	var payload statusPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return internal.ConnectionStatus{}, errs.Wrap(err, "decode status")
	}
	return internal.ConnectionStatus{Connected: payload.Connected, AccountLabel: payload.Email}, nil
}

func (c *Connector) Disconnect(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "google/disconnect", nil)
	return err
}

func (c *Connector) do(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	u := c.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &errs.ConnectionError{Provider: providerName, Reason: strings.TrimSpace(string(body))}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("scan api %s %s: status=%d", method, endpoint, resp.StatusCode)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("scan api returned an empty body")
	}
	return body, nil
}
