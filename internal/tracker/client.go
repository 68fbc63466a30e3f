package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"jobtrack/internal"
	"jobtrack/internal/config"
	"jobtrack/internal/errs"
)

const maxAttempts = 5

// Client talks to the job tracker REST API. It satisfies importer.Store.
type Client struct {
	cfg        config.Config
	httpClient *http.Client
	limiter    *RateLimiter
}

type listPayload struct {
	Jobs  []internal.Application `json:"jobs"`
	Stats map[string]int         `json:"stats"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// statusError is a non-2xx answer that was not retried.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("tracker api error: status=%d body=%s", e.Status, e.Body)
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TrackerTimeoutMs) * time.Millisecond},
		limiter:    NewRateLimiter(cfg.TrackerRateLimitRPS),
	}
}

func (c *Client) List(ctx context.Context, filter internal.ListFilter) (internal.ListResult, error) {
	params := map[string]string{
		"company": filter.Company,
		"search":  filter.Search,
	}
	if s := strings.ToLower(strings.TrimSpace(filter.Status)); s != internal.StatusAll {
		params["status"] = s
	}
	if filter.Limit > 0 {
		params["limit"] = strconv.Itoa(filter.Limit)
	}

	body, err := c.do(ctx, http.MethodGet, "jobs", params, nil, true)
	if err != nil {
		return internal.ListResult{}, err
	}

	var payload listPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return internal.ListResult{}, errs.Wrap(err, "decode jobs")
	}

	items := payload.Jobs
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	counts := make(map[internal.Status]int, len(internal.AllStatuses))
	for _, s := range internal.AllStatuses {
		counts[s] = payload.Stats[string(s)]
	}
	return internal.ListResult{Items: items, Counts: counts}, nil
}

// Create posts one application. A 409 answer means the tracker already holds
// the gmail message id and is reported as a duplicate.
func (c *Client) Create(ctx context.Context, req internal.ImportRequest) (internal.StoredApplication, error) {
	blob, err := json.Marshal(req)
	if err != nil {
		return internal.StoredApplication{}, err
	}

	// Without a message id the tracker cannot answer 409, so a create that
	// may already have landed is not sent again.
	body, err := c.do(ctx, http.MethodPost, "jobs", nil, blob, req.GmailMessageID != "")
	var se *statusError
	if errors.As(err, &se) && se.Status == http.StatusConflict {
		return internal.StoredApplication{
			Application: internal.Application{
				Company:        req.Company,
				Position:       req.Position,
				Status:         req.Status,
				GmailMessageID: req.GmailMessageID,
			},
			Duplicate: true,
		}, nil
	}
	if err != nil {
		return internal.StoredApplication{}, err
	}

	var app internal.Application
	if err := json.Unmarshal(body, &app); err != nil {
		return internal.StoredApplication{}, errs.Wrap(err, "decode created job")
	}
	return internal.StoredApplication{Application: app}, nil
}

// do sends one request. 429 is always retried; transport errors and 5xx only
// when retryable is set.
func (c *Client) do(ctx context.Context, method, endpoint string, params map[string]string, payload []byte, retryable bool) ([]byte, error) {
	if strings.TrimSpace(c.cfg.TrackerAPIToken) == "" {
		return nil, errors.New("missing TRACKER_API_TOKEN")
	}

	baseURL := strings.TrimRight(c.cfg.TrackerAPIBaseURL, "/") + "/"
	u, err := url.Parse(baseURL + endpoint)
	if err != nil {
		return nil, err
	}

	q := u.Query()
	for k, v := range params {
		if strings.TrimSpace(v) != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.WaitTurn(ctx); err != nil {
			return nil, err
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.TrackerAPIToken)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if !retryable {
				return nil, err
			}
			if attempt < maxAttempts {
				if err := sleepBackoff(ctx, attempt); err != nil {
					return nil, err
				}
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			if !retryable {
				return nil, readErr
			}
			lastErr = readErr
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}
		retry := resp.StatusCode == http.StatusTooManyRequests || (retryable && isRetryableStatus(resp.StatusCode))
		if retry && attempt < maxAttempts {
			lastErr = fmt.Errorf("tracker status %d", resp.StatusCode)
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}
		return nil, classifyStatus(resp.StatusCode, body)
	}

	if lastErr == nil {
		lastErr = errors.New("tracker request failed")
	}
	return nil, lastErr
}

func classifyStatus(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var ep errorPayload
	if json.Unmarshal(body, &ep) == nil && ep.Error != "" {
		msg = ep.Error
	}

	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return errs.NewValidation("tracker rejected application: %s", msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return &errs.ConnectionError{Provider: "tracker", Reason: "authorization rejected", Err: &statusError{Status: status, Body: msg}}
	default:
		return &statusError{Status: status, Body: msg}
	}
}

func sleepBackoff(ctx context.Context, attempt int) error {
	backoff := time.Duration(250*(1<<(attempt-1))+rand.Intn(100)) * time.Millisecond
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
