// Package configsource загружает дерево групп и лент по HTTP.
package configsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rss-mail-digest/internal/domain"
	"rss-mail-digest/internal/infra/metrics"
)

const maxConfigBytes = 4 << 20

// Client читает JSON вида {"groups":[...]} по GET.
type Client struct {
	url        string
	token      string
	httpClient *http.Client
}

var _ domain.ConfigSource = (*Client)(nil)

// Option настраивает клиента.
type Option func(*Client)

// WithHTTPClient подменяет HTTP клиента.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithToken добавляет Bearer токен к запросу.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// New создаёт клиента источника конфигурации.
func New(url string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("config url is required")
	}
	c := &Client{url: url, httpClient: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Load скачивает и разбирает конфигурацию лент.
func (c *Client) Load(ctx context.Context) (domain.FeedConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return domain.FeedConfig{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("configsource", "load", req.URL.Host, start, err)
		return domain.FeedConfig{}, fmt.Errorf("config request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err = fmt.Errorf("config source error: status=%d message=%s", resp.StatusCode, strings.TrimSpace(string(data)))
		metrics.ObserveNetworkRequest("configsource", "load", req.URL.Host, start, err)
		return domain.FeedConfig{}, err
	}

	var cfg domain.FeedConfig
	err = json.NewDecoder(io.LimitReader(resp.Body, maxConfigBytes)).Decode(&cfg)
	metrics.ObserveNetworkRequest("configsource", "load", req.URL.Host, start, err)
	if err != nil {
		return domain.FeedConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
