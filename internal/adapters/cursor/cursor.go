// Package cursor хранит водяные знаки лент между прогонами.
package cursor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"rss-mail-digest/internal/domain"
)

// TimeLayout ISO-8601 в UTC без потери точности, например 2024-05-01T10:00:00.123456Z.
// Записанное значение должно разбираться в то же время, иначе элемент пройдёт фильтр повторно.
const TimeLayout = time.RFC3339Nano

// FormatTime приводит время к формату файла курсора.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Advance возвращает новый курсор, сдвинутый по результатам прогона.
// Для каждой ленты с элементами берётся время самого нового элемента или now,
// если у него нет даты. Запись меняется только на строго более позднее время.
func Advance(cur domain.Cursor, results map[string][]domain.FeedItem, now time.Time) domain.Cursor {
	next := cur.Clone()
	for url, items := range results {
		if len(items) == 0 {
			continue
		}
		newest := items[0].PublishedOr(now)
		if prev, ok := next[url]; ok && !newest.After(prev) {
			continue
		}
		next[url] = newest.UTC()
	}
	return next
}

// Changed возвращает URL лент, чьи водяные знаки отличаются.
func Changed(before, after domain.Cursor) []string {
	var out []string
	for url, ts := range after {
		if prev, ok := before[url]; !ok || !prev.Equal(ts) {
			out = append(out, url)
		}
	}
	return out
}

// Encode сериализует курсор в читаемый JSON с отсортированными ключами.
func Encode(cur domain.Cursor) ([]byte, error) {
	raw := make(map[string]string, len(cur))
	for url, ts := range cur {
		raw[url] = FormatTime(ts)
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal cursor: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode разбирает JSON курсора. Непарсящиеся значения пропускаются с предупреждением.
func Decode(data []byte, logger zerolog.Logger) (domain.Cursor, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.Cursor{}, fmt.Errorf("unmarshal cursor: %w", err)
	}
	cur := make(domain.Cursor, len(raw))
	for url, value := range raw {
		ts, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			logger.Warn().Str("url", url).Str("value", value).Msg("cursor: некорректная дата, запись пропущена")
			continue
		}
		cur[url] = ts.UTC()
	}
	return cur, nil
}
