package domain

import "time"

// UncategorizedPath возвращается для ленты, которой нет в таксономии.
const UncategorizedPath = "Uncategorized"

// FeedRef описывает ленту внутри группы.
type FeedRef struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Group описывает узел дерева таксономии.
type Group struct {
	Name   string    `json:"name"`
	Feeds  []FeedRef `json:"feeds,omitempty"`
	Groups []Group   `json:"groups,omitempty"`
}

// FeedConfig хранит дерево групп, полученное из внешнего источника.
type FeedConfig struct {
	Groups []Group `json:"groups"`
}

// FlatFeed строка плоского списка лент.
type FlatFeed struct {
	Title     string
	URL       string
	GroupPath string
}

// Cursor хранит для каждой ленты время последнего обработанного элемента.
type Cursor map[string]time.Time

// Clone возвращает независимую копию курсора.
func (c Cursor) Clone() Cursor {
	out := make(Cursor, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// FeedItem элемент ленты за текущий прогон.
type FeedItem struct {
	Title     string
	Link      string
	GUID      string
	Published *time.Time
	Author    string
	Summary   string
	Content   string
	FeedTitle string
	FeedURL   string
}

// PublishedOr возвращает время публикации или fallback для элементов без даты.
func (i FeedItem) PublishedOr(fallback time.Time) time.Time {
	if i.Published == nil {
		return fallback
	}
	return *i.Published
}

// FetchResult результат чтения одной ленты.
type FetchResult struct {
	Title string
	Items []FeedItem
}

// DeliverableItem элемент, готовый к отправке письмом.
type DeliverableItem struct {
	Item      FeedItem
	GroupPath string
	Subject   string
	Labels    string
}

// MailMessage письмо для транспорта.
type MailMessage struct {
	From     string
	To       string
	Subject  string
	HTMLBody string
	Labels   string
	Headers  map[string]string
}

// Label метка почтового провайдера.
type Label struct {
	ID   string
	Name string
}

// LabelMap сопоставляет имя метки с идентификатором провайдера.
type LabelMap map[string]string

// FilterCriteria условия срабатывания правила.
type FilterCriteria struct {
	From    string
	Subject string
}

// FilterAction действия правила.
type FilterAction struct {
	AddLabelIDs []string
	Archive     bool
}

// FilterRule правило сортировки входящих писем.
type FilterRule struct {
	ID       string
	Criteria FilterCriteria
	Action   FilterAction
}
