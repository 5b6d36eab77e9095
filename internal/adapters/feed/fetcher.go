// Package feed читает RSS/Atom ленты и отбирает элементы новее курсора.
package feed

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"rss-mail-digest/internal/domain"
	"rss-mail-digest/internal/infra/metrics"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxRedirects = 5
	defaultUserAgent    = "rss-mail-digest/1.0"
	maxFeedBytes        = 16 << 20
)

// Options настройки HTTP клиента лент.
type Options struct {
	Timeout      time.Duration
	MaxRedirects int
	UserAgent    string
	// InsecureRetry повторяет запрос без проверки сертификата при ошибке TLS.
	InsecureRetry bool
}

// Fetcher реализует domain.FeedFetcher поверх gofeed.
type Fetcher struct {
	client    *http.Client
	insecure  *http.Client
	userAgent string
	log       zerolog.Logger
}

var _ domain.FeedFetcher = (*Fetcher)(nil)

// NewFetcher создаёт адаптер лент.
func NewFetcher(opts Options, logger zerolog.Logger) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = defaultMaxRedirects
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	f := &Fetcher{userAgent: opts.UserAgent, log: logger}
	f.client = f.newClient(opts, http.DefaultTransport.(*http.Transport).Clone())
	if opts.InsecureRetry {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // самоподписанные сертификаты лент допустимы
		f.insecure = f.newClient(opts, transport)
	}
	return f
}

func (f *Fetcher) newClient(opts Options, transport http.RoundTripper) *http.Client {
	maxRedirects := opts.MaxRedirects
	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return errRedirectLimit
			}
			if resp := req.Response; resp != nil && (resp.StatusCode == http.StatusMovedPermanently || resp.StatusCode == http.StatusPermanentRedirect) {
				f.log.Info().Str("from", via[0].URL.String()).Str("to", req.URL.String()).Msg("feed: лента переехала навсегда, обновите конфигурацию")
			}
			return nil
		},
	}
}

// FetchSince читает ленту и оставляет элементы строго новее since, от новых к старым.
func (f *Fetcher) FetchSince(ctx context.Context, feedURL string, since *time.Time, fallbackTitle string) (domain.FetchResult, error) {
	parsed, err := f.fetch(ctx, f.client, feedURL)
	if err != nil && f.insecure != nil && KindOf(err) == KindCertificate {
		f.log.Warn().Err(err).Str("url", feedURL).Msg("feed: ошибка сертификата, повторяем без проверки")
		parsed, err = f.fetch(ctx, f.insecure, feedURL)
	}
	if err != nil {
		metrics.ObserveFeedFetch(string(KindOf(err)), 0)
		return domain.FetchResult{}, err
	}

	title := strings.TrimSpace(parsed.Title)
	if title == "" {
		title = fallbackTitle
	}
	items := make([]domain.FeedItem, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if it == nil {
			continue
		}
		items = append(items, toItem(it, title, feedURL))
	}
	items = FilterSince(items, since)
	metrics.ObserveFeedFetch("", len(items))
	return domain.FetchResult{Title: title, Items: items}, nil
}

func (f *Fetcher) fetch(ctx context.Context, client *http.Client, feedURL string) (*gofeed.Feed, error) {
	start := time.Now()
	target := hostOf(feedURL)
	feed, err := f.doFetch(ctx, client, feedURL)
	metrics.ObserveNetworkRequest("feed", "fetch", target, start, err)
	return feed, err
}

func (f *Fetcher) doFetch(ctx context.Context, client *http.Client, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindUnknown, URL: feedURL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: classifyTransport(err), URL: feedURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{
			Kind:       classifyStatus(resp.StatusCode),
			URL:        feedURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	parser := gofeed.NewParser()
	feed, err := parser.Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		kind := KindMalformed
		if isTimeout(err) {
			kind = KindTimeout
		}
		return nil, &FetchError{Kind: kind, URL: feedURL, Err: err}
	}
	return feed, nil
}

// FilterSince отбрасывает элементы не новее since и сортирует от новых к старым.
// Элементы без даты всегда проходят фильтр и при сортировке считаются самыми старыми.
func FilterSince(items []domain.FeedItem, since *time.Time) []domain.FeedItem {
	out := make([]domain.FeedItem, 0, len(items))
	for _, it := range items {
		if since != nil && it.Published != nil && !it.Published.After(*since) {
			continue
		}
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PublishedOr(time.Time{}).After(out[j].PublishedOr(time.Time{}))
	})
	return out
}

func toItem(it *gofeed.Item, feedTitle, feedURL string) domain.FeedItem {
	published := it.PublishedParsed
	if published == nil {
		published = it.UpdatedParsed
	}
	if published != nil {
		// Точность TIMESTAMPTZ: водяной знак в Postgres должен совпадать со временем элемента.
		utc := published.UTC().Truncate(time.Microsecond)
		published = &utc
	}
	return domain.FeedItem{
		Title:     strings.TrimSpace(it.Title),
		Link:      strings.TrimSpace(it.Link),
		GUID:      strings.TrimSpace(it.GUID),
		Published: published,
		Author:    authorOf(it),
		Summary:   it.Description,
		Content:   it.Content,
		FeedTitle: feedTitle,
		FeedURL:   feedURL,
	}
}

func authorOf(it *gofeed.Item) string {
	if it.Author != nil && it.Author.Name != "" {
		return it.Author.Name
	}
	for _, a := range it.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	return ""
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}
