package delivery

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"rss-mail-digest/internal/domain"
)

const dateLayout = "02.01.2006 15:04 MST"

// FormatBody формирует HTML тело письма для одного элемента ленты.
func FormatBody(d domain.DeliverableItem) string {
	item := d.Item
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><body>\n")

	title := escapeHTML(strings.TrimSpace(item.Title))
	if title == "" {
		title = "(без заголовка)"
	}
	if link := strings.TrimSpace(item.Link); link != "" {
		title = fmt.Sprintf("<a href=\"%s\">%s</a>", html.EscapeString(link), title)
	}
	b.WriteString("<h2>" + title + "</h2>\n")

	if meta := buildMeta(d); meta != "" {
		b.WriteString("<p style=\"color:#666\"><small>" + meta + "</small></p>\n")
	}

	if body := bodyOf(item); body != "" {
		b.WriteString("<div>\n" + body + "\n</div>\n")
	}

	if link := strings.TrimSpace(item.Link); link != "" {
		b.WriteString(fmt.Sprintf("<p><a href=\"%s\">Читать на сайте</a></p>\n", html.EscapeString(link)))
	}
	b.WriteString("</body></html>\n")
	return b.String()
}

func buildMeta(d domain.DeliverableItem) string {
	var parts []string
	if feed := strings.TrimSpace(d.Item.FeedTitle); feed != "" {
		parts = append(parts, escapeHTML(feed))
	}
	if d.GroupPath != "" {
		parts = append(parts, escapeHTML(d.GroupPath))
	}
	if author := strings.TrimSpace(d.Item.Author); author != "" {
		parts = append(parts, escapeHTML(author))
	}
	if d.Item.Published != nil {
		parts = append(parts, d.Item.Published.UTC().Format(dateLayout))
	}
	return strings.Join(parts, " · ")
}

// bodyOf предпочитает полный текст краткому описанию. HTML из ленты вставляется как есть.
func bodyOf(item domain.FeedItem) string {
	if content := strings.TrimSpace(item.Content); content != "" {
		return content
	}
	return strings.TrimSpace(item.Summary)
}

// wordCount считает слова в видимом тексте HTML фрагмента.
func wordCount(fragment string) int {
	if strings.TrimSpace(fragment) == "" {
		return 0
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return len(strings.Fields(fragment))
	}
	return len(strings.Fields(doc.Text()))
}

// seenKey ключ элемента без даты: GUID, затем ссылка, затем хеш заголовка и ленты.
func seenKey(item domain.FeedItem) string {
	if guid := strings.TrimSpace(item.GUID); guid != "" {
		return "guid:" + guid
	}
	if link := strings.TrimSpace(item.Link); link != "" {
		return "link:" + link
	}
	sum := sha256.Sum256([]byte(item.FeedURL + "\x00" + item.Title))
	return "hash:" + hex.EncodeToString(sum[:])
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func escapeHTML(s string) string {
	return html.EscapeString(s)
}
