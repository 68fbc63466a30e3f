package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"jobtrack/internal"
	"jobtrack/internal/config"
	"jobtrack/internal/errs"
	"jobtrack/internal/pipeline"
	"jobtrack/internal/util"
)

const (
	providerName = "gmail"

	tokenKey        = "gmail.refresh_token"
	disconnectedKey = "gmail.disconnected_at"

	pageCap        = 500
	maxConcurrency = 16
	messageLinkFmt = "https://mail.google.com/mail/u/0/#all/%s"
)

// TokenStore persists the refresh token. storage.DB implements it.
type TokenStore interface {
	GetMetadata(key string) (*string, error)
	SetMetadata(key, value string) error
	DeleteMetadata(key string) error
}

type Connector struct {
	oauth         *oauth2.Config
	creds         TokenStore
	fallbackToken string
	opts          []option.ClientOption
}

func NewConnector(cfg config.Config, creds TokenStore, opts ...option.ClientOption) (*Connector, error) {
	if err := cfg.Require("GMAIL_CLIENT_ID", cfg.GmailClientID); err != nil {
		return nil, err
	}
	if err := cfg.Require("GMAIL_CLIENT_SECRET", cfg.GmailClientSecret); err != nil {
		return nil, err
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.GmailClientID,
		ClientSecret: cfg.GmailClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.GmailRedirectURI,
		Scopes:       []string{gmail.GmailReadonlyScope},
	}

	return &Connector{
		oauth:         oauthCfg,
		creds:         creds,
		fallbackToken: strings.TrimSpace(cfg.GmailRefreshToken),
		opts:          opts,
	}, nil
}

func (c *Connector) Name() string { return providerName }

// AuthURL is the consent page the user opens to obtain an authorization code.
func (c *Connector) AuthURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Connect exchanges an authorization code and stores the refresh token.
func (c *Connector) Connect(ctx context.Context, code string) error {
	tok, err := c.oauth.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return &errs.ConnectionError{Provider: providerName, Reason: "authorization code rejected", Err: err}
	}
	if tok.RefreshToken == "" {
		return &errs.ConnectionError{Provider: providerName, Reason: "no refresh token granted"}
	}
	return c.StoreRefreshToken(tok.RefreshToken)
}

func (c *Connector) StoreRefreshToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("empty refresh token")
	}
	if err := c.creds.SetMetadata(tokenKey, token); err != nil {
		return err
	}
	return c.creds.DeleteMetadata(disconnectedKey)
}

func (c *Connector) refreshToken() (string, error) {
	stored, err := c.creds.GetMetadata(tokenKey)
	if err != nil {
		return "", err
	}
	if stored != nil && strings.TrimSpace(*stored) != "" {
		return *stored, nil
	}
	disconnected, err := c.creds.GetMetadata(disconnectedKey)
	if err != nil {
		return "", err
	}
	if disconnected != nil {
		return "", nil
	}
	return c.fallbackToken, nil
}

func (c *Connector) service(ctx context.Context) (*gmail.Service, error) {
	token, err := c.refreshToken()
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, &errs.ConnectionError{Provider: providerName}
	}

	ts := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: token})
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, c.opts...)
	return gmail.NewService(ctx, opts...)
}

func (c *Connector) Status(ctx context.Context) (internal.ConnectionStatus, error) {
	svc, err := c.service(ctx)
	if errs.IsConnection(err) {
		return internal.ConnectionStatus{}, nil
	}
	if err != nil {
		return internal.ConnectionStatus{}, err
	}

	profile, err := svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		if mapped := mapError(err); errs.IsConnection(mapped) {
			return internal.ConnectionStatus{}, nil
		}
		return internal.ConnectionStatus{}, err
	}
	return internal.ConnectionStatus{Connected: true, AccountLabel: profile.EmailAddress}, nil
}

func (c *Connector) Disconnect(ctx context.Context) error {
	if err := c.creds.DeleteMetadata(tokenKey); err != nil {
		return err
	}
	return c.creds.SetMetadata(disconnectedKey, time.Now().UTC().Format(time.RFC3339))
}

func (c *Connector) Scan(ctx context.Context, q internal.ScanQuery) ([]internal.RawScanEvent, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}

	limit := q.MaxResults
	if limit <= 0 {
		limit = pageCap
	}

	ids, err := listMessageIDs(ctx, svc, BuildQuery(q.Since, q.Until), limit)
	if err != nil {
		return nil, mapError(err)
	}

	type fetched struct {
		ev       internal.RawScanEvent
		received time.Time
		err      error
	}
	results := make([]fetched, len(ids))
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			msg, err := svc.Users.Messages.Get("me", id).
				Format("metadata").
				MetadataHeaders("Subject", "Date", "From").
				Context(ctx).
				Do()
			if err != nil {
				results[i].err = err
				return
			}
			ev, received := toRawEvent(msg)
			results[i] = fetched{ev: ev, received: received}
		}(i, id)
	}
	wg.Wait()

	out := make([]fetched, 0, len(results))
	var firstErr error
	for _, r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		out = append(out, r)
	}
	if len(out) == 0 && firstErr != nil {
		return nil, mapError(firstErr)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].received.After(out[j].received) })

	events := make([]internal.RawScanEvent, 0, len(out))
	for _, r := range out {
		events = append(events, r.ev)
	}
	return events, nil
}

func listMessageIDs(ctx context.Context, svc *gmail.Service, query string, limit int) ([]string, error) {
	var ids []string
	pageToken := ""
	for len(ids) < limit {
		call := svc.Users.Messages.List("me").Q(query).MaxResults(int64(min(pageCap, limit-len(ids)))).Context(ctx)
		if pageToken != "" {
			call.PageToken(pageToken)
		}
		res, err := call.Do()
		if err != nil {
			return nil, err
		}
		for _, m := range res.Messages {
			if m.Id != "" && len(ids) < limit {
				ids = append(ids, m.Id)
			}
		}
		if res.NextPageToken == "" || len(res.Messages) == 0 {
			break
		}
		pageToken = res.NextPageToken
	}
	return ids, nil
}

func toRawEvent(msg *gmail.Message) (internal.RawScanEvent, time.Time) {
	var subject, from, date string
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "subject":
				subject = h.Value
			case "from":
				from = h.Value
			case "date":
				date = h.Value
			}
		}
	}

	var received time.Time
	if msg.InternalDate > 0 {
		received = time.UnixMilli(msg.InternalDate).UTC()
	} else if t, ok := util.ParseDateLoose(date); ok {
		received = t.UTC()
	}

	ev := internal.RawScanEvent{
		"messageId": msg.Id,
		"subject":   subject,
		"snippet":   msg.Snippet,
		"company":   pipeline.ExtractCompany(subject, from),
		"title":     pipeline.ExtractTitle(subject),
		"status":    string(internal.StatusApplied),
		"link":      fmt.Sprintf(messageLinkFmt, msg.Id),
	}
	if !received.IsZero() {
		ev["appliedDate"] = received
	}
	return ev, received
}

func mapError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden) {
		return &errs.ConnectionError{Provider: providerName, Reason: "authorization expired", Err: err}
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return &errs.ConnectionError{Provider: providerName, Reason: "authorization expired", Err: err}
	}
	return err
}
