// Package telegram шлёт оператору сводку прогонов с ошибками.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rss-mail-digest/internal/domain"
	"rss-mail-digest/internal/infra/metrics"
)

const maxListedSubjects = 50

type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier реализует domain.Notifier через Telegram бота.
type Notifier struct {
	bot    botSender
	chatID int64
}

var _ domain.Notifier = (*Notifier)(nil)

// NewNotifier создаёт уведомитель. bot обычно *tgbotapi.BotAPI.
func NewNotifier(bot botSender, chatID int64) *Notifier {
	return &Notifier{bot: bot, chatID: chatID}
}

// NotifyRun отправляет сводку прогона частями.
func (n *Notifier) NotifyRun(ctx context.Context, report domain.RunReport) error {
	for _, part := range SplitMessage(FormatReport(report)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(n.chatID, part)
		msg.DisableWebPagePreview = true
		start := time.Now()
		_, err := n.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram", "send_message", "notify", start, err)
		if err != nil {
			return fmt.Errorf("telegram: отправка уведомления: %w", err)
		}
	}
	return nil
}

// FormatReport превращает итоги прогона в текст.
func FormatReport(r domain.RunReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "rss2mail: прогон %s (%s)\n", r.RunID, r.Mode)
	fmt.Fprintf(&b, "Лент: %d, с новыми: %d, с ошибками: %d\n", r.FeedsTotal, r.FeedsWithItems, r.FeedsFailed)
	fmt.Fprintf(&b, "Отправлено: %d, не отправлено: %d, пропущено: %d\n", r.Sent, r.Failed, r.Skipped)
	if r.Error != "" {
		fmt.Fprintf(&b, "Ошибка: %s\n", r.Error)
	}
	if len(r.FailedSubjects) > 0 {
		b.WriteString("\nНе отправлены:\n")
		for i, s := range r.FailedSubjects {
			if i == maxListedSubjects {
				fmt.Fprintf(&b, "… и ещё %d\n", len(r.FailedSubjects)-maxListedSubjects)
				break
			}
			b.WriteString("- " + s + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}
