// Package taxonomy отображает дерево групп в пути, префиксы тем и строки меток.
package taxonomy

import (
	"errors"
	"fmt"
	"strings"

	"rss-mail-digest/internal/domain"
)

// DefaultRootLabel корневая метка для всех писем.
const DefaultRootLabel = "RSS Feeds"

var (
	// ErrDuplicateGroup у родителя два дочерних узла с одним именем.
	ErrDuplicateGroup = errors.New("повторяющееся имя группы")
	// ErrInvalidGroupName имя группы пустое или содержит служебные символы.
	ErrInvalidGroupName = errors.New("недопустимое имя группы")
	// ErrInvalidFeedTitle название ленты содержит разделитель пути.
	ErrInvalidFeedTitle = errors.New("недопустимое название ленты")
)

// Validate проверяет дерево до обхода.
func Validate(cfg domain.FeedConfig) error {
	return validateLevel(cfg.Groups, "")
}

func validateLevel(groups []domain.Group, parent string) error {
	seen := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		path := joinPath(parent, g.Name)
		if strings.TrimSpace(g.Name) == "" || strings.ContainsAny(g.Name, "/[]") {
			return fmt.Errorf("%w: %q", ErrInvalidGroupName, path)
		}
		if _, ok := seen[g.Name]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateGroup, path)
		}
		seen[g.Name] = struct{}{}
		for _, f := range g.Feeds {
			if strings.Contains(f.Title, "/") {
				return fmt.Errorf("%w: %q в %q", ErrInvalidFeedTitle, f.Title, path)
			}
		}
		if err := validateLevel(g.Groups, path); err != nil {
			return err
		}
	}
	return nil
}

// Flatten обходит дерево в глубину и возвращает ленты с путями групп.
func Flatten(cfg domain.FeedConfig) []domain.FlatFeed {
	var out []domain.FlatFeed
	var walk func(groups []domain.Group, parent string)
	walk = func(groups []domain.Group, parent string) {
		for _, g := range groups {
			path := joinPath(parent, g.Name)
			for _, f := range g.Feeds {
				out = append(out, domain.FlatFeed{Title: f.Title, URL: f.URL, GroupPath: path})
			}
			walk(g.Groups, path)
		}
	}
	walk(cfg.Groups, "")
	return out
}

// ResolveGroupPath ищет первую группу, содержащую url.
func ResolveGroupPath(url string, cfg domain.FeedConfig) string {
	for _, f := range Flatten(cfg) {
		if f.URL == url {
			return f.GroupPath
		}
	}
	return domain.UncategorizedPath
}

// GroupPaths возвращает пути всех групп в порядке обхода.
func GroupPaths(cfg domain.FeedConfig) []string {
	var out []string
	var walk func(groups []domain.Group, parent string)
	walk = func(groups []domain.Group, parent string) {
		for _, g := range groups {
			path := joinPath(parent, g.Name)
			out = append(out, path)
			walk(g.Groups, path)
		}
	}
	walk(cfg.Groups, "")
	return out
}

// FeedPaths возвращает пути уровня лент: путь группы плюс название ленты.
func FeedPaths(cfg domain.FeedConfig) []string {
	feeds := Flatten(cfg)
	out := make([]string, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, joinPath(f.GroupPath, f.Title))
	}
	return out
}

// FormatSubjectPrefix превращает "Tech/Programming" в "[Tech][Programming]".
func FormatSubjectPrefix(path string) string {
	if path == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range strings.Split(path, "/") {
		b.WriteString("[")
		b.WriteString(seg)
		b.WriteString("]")
	}
	return b.String()
}

// ParseSubjectPrefix разбирает префикс темы обратно в сегменты пути.
// rest остаток темы после скобок без ведущих пробелов.
func ParseSubjectPrefix(subject string) (segments []string, rest string) {
	for {
		subject = strings.TrimLeft(subject, " ")
		if !strings.HasPrefix(subject, "[") {
			return segments, subject
		}
		end := strings.Index(subject, "]")
		if end < 0 {
			return segments, subject
		}
		segments = append(segments, subject[1:end])
		subject = subject[end+1:]
	}
}

// FormatSubject собирает тему письма.
func FormatSubject(path, feedTitle, itemTitle string) string {
	prefix := FormatSubjectPrefix(path)
	body := feedTitle + ": " + itemTitle
	if prefix == "" {
		return body
	}
	return prefix + " " + body
}

// BuildLabelString перечисляет через запятую все предковые метки пути под корнем.
func BuildLabelString(root, path string) string {
	labels := []string{root}
	if path != "" {
		current := root
		for _, seg := range strings.Split(path, "/") {
			current += "/" + seg
			labels = append(labels, current)
		}
	}
	return strings.Join(labels, ",")
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
