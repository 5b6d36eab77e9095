// Package mail отправляет письма через SMTP.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	netmail "net/mail"
	"net/smtp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"rss-mail-digest/internal/domain"
	"rss-mail-digest/internal/infra/metrics"
)

// DefaultLabelHeader заголовок, в котором передаётся строка меток.
const DefaultLabelHeader = "X-Gmail-Labels"

// TLSMode режим шифрования соединения.
type TLSMode string

const (
	TLSModeStartTLS TLSMode = "starttls"
	TLSModeImplicit TLSMode = "tls"
	TLSModeNone     TLSMode = "none"
)

// Options параметры SMTP сервера.
type Options struct {
	Host        string
	Port        int
	Username    string
	Password    string
	TLSMode     TLSMode
	LabelHeader string
	Timeout     time.Duration
}

// SMTPSender реализует domain.MailSender.
type SMTPSender struct {
	opts Options
	now  func() time.Time
}

var _ domain.MailSender = (*SMTPSender)(nil)

// NewSMTPSender создаёт отправителя.
func NewSMTPSender(opts Options) *SMTPSender {
	if opts.Port == 0 {
		opts.Port = 587
	}
	if opts.TLSMode == "" {
		opts.TLSMode = TLSModeStartTLS
	}
	if opts.LabelHeader == "" {
		opts.LabelHeader = DefaultLabelHeader
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &SMTPSender{opts: opts, now: time.Now}
}

// Send отправляет одно письмо. Ответы сервера 4yz/5yz возвращаются как *textproto.Error.
func (s *SMTPSender) Send(ctx context.Context, msg domain.MailMessage) error {
	start := time.Now()
	err := s.send(ctx, msg)
	metrics.ObserveNetworkRequest("smtp", "send", s.opts.Host, start, err)
	return err
}

func (s *SMTPSender) send(ctx context.Context, msg domain.MailMessage) error {
	raw, err := BuildMessage(msg, s.opts.LabelHeader, s.now())
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(s.opts.Host, fmt.Sprint(s.opts.Port))

	conn, err := s.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	deadline := time.Now().Add(s.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, s.opts.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if s.opts.TLSMode == TLSModeStartTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: s.opts.Host}); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	if s.opts.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", s.opts.Username, s.opts.Password, s.opts.Host)
			if err := c.Auth(auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}
	if err := c.Mail(envelope(msg.From)); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(envelope(msg.To)); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data end: %w", err)
	}
	return c.Quit()
}

func (s *SMTPSender) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: s.opts.Timeout}
	if s.opts.TLSMode == TLSModeImplicit {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: s.opts.Host}}
		return tlsDialer.DialContext(ctx, "tcp", addr)
	}
	return dialer.DialContext(ctx, "tcp", addr)
}

// BuildMessage собирает RFC 5322 письмо с HTML телом в quoted-printable.
func BuildMessage(msg domain.MailMessage, labelHeader string, now time.Time) ([]byte, error) {
	if msg.From == "" || msg.To == "" {
		return nil, fmt.Errorf("mail: from and to are required")
	}
	headers := map[string]string{
		"From":                      msg.From,
		"To":                        msg.To,
		"Subject":                   mime.QEncoding.Encode("utf-8", msg.Subject),
		"Date":                      now.Format(time.RFC1123Z),
		"Message-ID":                fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(msg.From)),
		"MIME-Version":              "1.0",
		"Content-Type":              `text/html; charset="UTF-8"`,
		"Content-Transfer-Encoding": "quoted-printable",
	}
	if msg.Labels != "" && labelHeader != "" {
		headers[labelHeader] = msg.Labels
	}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteString(": ")
		buf.WriteString(sanitizeHeader(headers[k]))
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(msg.HTMLBody)); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return buf.Bytes(), nil
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

func envelope(addr string) string {
	if parsed, err := netmail.ParseAddress(addr); err == nil {
		return parsed.Address
	}
	return strings.TrimSpace(addr)
}

func domainOf(addr string) string {
	addr = envelope(addr)
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
