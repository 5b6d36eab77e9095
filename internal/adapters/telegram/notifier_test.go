package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rss-mail-digest/internal/domain"
)

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestNotifyRun(t *testing.T) {
	bot := &fakeBot{}
	report := domain.RunReport{
		RunID:          "run-1",
		Mode:           domain.ModeDeliver,
		Sent:           3,
		Failed:         1,
		FailedSubjects: []string{"[Tech] Go Blog: Release"},
	}
	if err := NewNotifier(bot, 42).NotifyRun(context.Background(), report); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("ожидали одно сообщение, получили %d", len(bot.sent))
	}
	msg := bot.sent[0]
	if msg.ChatID != 42 {
		t.Fatalf("неожиданный чат: %d", msg.ChatID)
	}
	for _, want := range []string{"run-1", "Отправлено: 3, не отправлено: 1", "- [Tech] Go Blog: Release"} {
		if !strings.Contains(msg.Text, want) {
			t.Fatalf("в сообщении нет %q:\n%s", want, msg.Text)
		}
	}
}

func TestNotifyRunError(t *testing.T) {
	bot := &fakeBot{err: errors.New("forbidden")}
	err := NewNotifier(bot, 1).NotifyRun(context.Background(), domain.RunReport{Failed: 1})
	if err == nil {
		t.Fatalf("ожидали ошибку")
	}
}

func TestFormatReportTruncatesSubjects(t *testing.T) {
	var subjects []string
	for i := 0; i < maxListedSubjects+5; i++ {
		subjects = append(subjects, fmt.Sprintf("subject %d", i))
	}
	text := FormatReport(domain.RunReport{FailedSubjects: subjects, Error: "boom"})
	if !strings.Contains(text, "… и ещё 5") || !strings.Contains(text, "Ошибка: boom") {
		t.Fatalf("неожиданный текст:\n%s", text)
	}
	if strings.Contains(text, fmt.Sprintf("subject %d", maxListedSubjects)) {
		t.Fatalf("лишние темы не должны выводиться")
	}
}
