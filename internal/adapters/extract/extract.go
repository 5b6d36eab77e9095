// Package extract достаёт основной текст статьи со страницы.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"rss-mail-digest/internal/domain"
	"rss-mail-digest/internal/infra/metrics"
)

const maxPageBytes = 2 << 20

// ErrNoContent на странице не нашлось текста.
var ErrNoContent = errors.New("extract: пустая страница")

// contentSelectors проверяются по порядку, побеждает первый с достаточным текстом.
var contentSelectors = []string{
	"article",
	"[itemprop=articleBody]",
	"[role=main]",
	"main",
	".post-content",
	".entry-content",
	".article-content",
	".article-body",
	"#content",
	".content",
}

var boilerplate = "script, style, noscript, iframe, form, nav, header, footer, aside, svg, button"

const minRegionChars = 200

// Extractor реализует domain.ContentExtractor.
type Extractor struct {
	client    *http.Client
	userAgent string
}

var _ domain.ContentExtractor = (*Extractor)(nil)

// New создаёт извлекатель содержимого.
func New(timeout time.Duration, userAgent string) *Extractor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Extractor{client: &http.Client{Timeout: timeout}, userAgent: userAgent}
}

// Extract скачивает страницу и возвращает HTML основного блока.
func (e *Extractor) Extract(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("extract: create request: %w", err)
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("extract", "page", hostOf(pageURL), start, err)
		return "", fmt.Errorf("extract: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("extract: unexpected status %s", resp.Status)
		metrics.ObserveNetworkRequest("extract", "page", hostOf(pageURL), start, err)
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	metrics.ObserveNetworkRequest("extract", "page", hostOf(pageURL), start, err)
	if err != nil {
		return "", fmt.Errorf("extract: parse html: %w", err)
	}
	return MainContent(doc)
}

// MainContent выбирает основной блок документа. Если ни один селектор не подошёл,
// возвращается body без служебных тегов.
func MainContent(doc *goquery.Document) (string, error) {
	doc.Find(boilerplate).Remove()

	for _, sel := range contentSelectors {
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if len(strings.TrimSpace(s.Text())) < minRegionChars {
				return true
			}
			html, err := s.Html()
			if err != nil {
				return true
			}
			found = strings.TrimSpace(html)
			return false
		})
		if found != "" {
			return found, nil
		}
	}

	body := doc.Find("body")
	if strings.TrimSpace(body.Text()) == "" {
		return "", ErrNoContent
	}
	html, err := body.Html()
	if err != nil {
		return "", fmt.Errorf("extract: render body: %w", err)
	}
	return strings.TrimSpace(html), nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}
