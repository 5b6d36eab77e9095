// Package gmail управляет метками и фильтрами через Gmail REST API.
package gmail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"rss-mail-digest/internal/domain"
	"rss-mail-digest/internal/infra/metrics"
)

const (
	// DefaultBaseURL адрес Gmail API.
	DefaultBaseURL = "https://gmail.googleapis.com/gmail/v1"
	inboxLabelID   = "INBOX"
)

var googleEndpoint = oauth2.Endpoint{
	AuthURL:   "https://accounts.google.com/o/oauth2/auth",
	TokenURL:  "https://oauth2.googleapis.com/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// Credentials данные OAuth приложения и refresh token владельца ящика.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Client реализует domain.LabelProvider.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

var _ domain.LabelProvider = (*Client)(nil)

// Option настраивает клиента.
type Option func(*Client)

// WithHTTPClient подменяет HTTP клиента, например для тестов.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL подменяет адрес API.
func WithBaseURL(raw string) Option {
	return func(c *Client) {
		if parsed, err := url.Parse(raw); err == nil && raw != "" {
			c.baseURL = parsed
		}
	}
}

// WithTimeout задаёт таймаут запросов.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

// NewOAuthHTTPClient возвращает HTTP клиента, обновляющего access token по refresh token.
func NewOAuthHTTPClient(ctx context.Context, creds Credentials) (*http.Client, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" || creds.RefreshToken == "" {
		return nil, fmt.Errorf("gmail: client id, secret and refresh token are required")
	}
	cfg := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     googleEndpoint,
		Scopes: []string{
			"https://www.googleapis.com/auth/gmail.labels",
			"https://www.googleapis.com/auth/gmail.settings.basic",
		},
	}
	return cfg.Client(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken}), nil
}

// New создаёт клиента Gmail API.
func New(opts ...Option) *Client {
	base, _ := url.Parse(DefaultBaseURL)
	c := &Client{baseURL: base, httpClient: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiLabel struct {
	ID                    string `json:"id,omitempty"`
	Name                  string `json:"name"`
	Type                  string `json:"type,omitempty"`
	LabelListVisibility   string `json:"labelListVisibility,omitempty"`
	MessageListVisibility string `json:"messageListVisibility,omitempty"`
}

type apiCriteria struct {
	From    string `json:"from,omitempty"`
	Subject string `json:"subject,omitempty"`
}

type apiAction struct {
	AddLabelIDs    []string `json:"addLabelIds,omitempty"`
	RemoveLabelIDs []string `json:"removeLabelIds,omitempty"`
}

type apiFilter struct {
	ID       string      `json:"id,omitempty"`
	Criteria apiCriteria `json:"criteria"`
	Action   apiAction   `json:"action"`
}

// APIError ответ API с неуспешным статусом.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gmail api error: status=%d message=%s", e.Status, e.Message)
}

// StatusCode возвращает HTTP статус ответа.
func (e *APIError) StatusCode() int { return e.Status }

// ListLabels возвращает все метки ящика.
func (c *Client) ListLabels(ctx context.Context) ([]domain.Label, error) {
	var resp struct {
		Labels []apiLabel `json:"labels"`
	}
	if err := c.get(ctx, "/users/me/labels", "labels_list", &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Label, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		out = append(out, domain.Label{ID: l.ID, Name: l.Name})
	}
	return out, nil
}

// CreateLabel создаёт пользовательскую метку.
func (c *Client) CreateLabel(ctx context.Context, name string) (domain.Label, error) {
	body := apiLabel{Name: name, LabelListVisibility: "labelShow", MessageListVisibility: "show"}
	var created apiLabel
	if err := c.post(ctx, "/users/me/labels", "labels_create", body, &created); err != nil {
		return domain.Label{}, err
	}
	return domain.Label{ID: created.ID, Name: created.Name}, nil
}

// ListFilters возвращает правила ящика.
func (c *Client) ListFilters(ctx context.Context) ([]domain.FilterRule, error) {
	var resp struct {
		Filter []apiFilter `json:"filter"`
	}
	if err := c.get(ctx, "/users/me/settings/filters", "filters_list", &resp); err != nil {
		return nil, err
	}
	out := make([]domain.FilterRule, 0, len(resp.Filter))
	for _, f := range resp.Filter {
		out = append(out, fromAPIFilter(f))
	}
	return out, nil
}

// CreateFilter создаёт правило. Архивация означает снятие метки INBOX.
func (c *Client) CreateFilter(ctx context.Context, rule domain.FilterRule) (domain.FilterRule, error) {
	body := apiFilter{
		Criteria: apiCriteria{From: rule.Criteria.From, Subject: rule.Criteria.Subject},
		Action:   apiAction{AddLabelIDs: rule.Action.AddLabelIDs},
	}
	if rule.Action.Archive {
		body.Action.RemoveLabelIDs = []string{inboxLabelID}
	}
	var created apiFilter
	if err := c.post(ctx, "/users/me/settings/filters", "filters_create", body, &created); err != nil {
		return domain.FilterRule{}, err
	}
	return fromAPIFilter(created), nil
}

func fromAPIFilter(f apiFilter) domain.FilterRule {
	archive := false
	for _, id := range f.Action.RemoveLabelIDs {
		if id == inboxLabelID {
			archive = true
		}
	}
	return domain.FilterRule{
		ID:       f.ID,
		Criteria: domain.FilterCriteria{From: f.Criteria.From, Subject: f.Criteria.Subject},
		Action:   domain.FilterAction{AddLabelIDs: f.Action.AddLabelIDs, Archive: archive},
	}
}

func (c *Client) get(ctx context.Context, endpoint, operation string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, operation, out)
}

func (c *Client) post(ctx context.Context, endpoint, operation string, body any, out any) error {
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	return c.do(req, operation, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	resolved := *c.baseURL
	basePath := strings.TrimSuffix(c.baseURL.Path, "/")
	resolved.Path = path.Clean(basePath + endpoint)
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, operation string, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("gmail", operation, req.URL.Host, start, err)
		return fmt.Errorf("gmail api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var parsed struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &parsed) == nil && parsed.Error.Message != "" {
			apiErr.Message = parsed.Error.Message
		}
		metrics.ObserveNetworkRequest("gmail", operation, req.URL.Host, start, apiErr)
		return apiErr
	}
	metrics.ObserveNetworkRequest("gmail", operation, req.URL.Host, start, nil)

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
