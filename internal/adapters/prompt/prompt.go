// Package prompt спрашивает подтверждение у оператора в терминале.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"rss-mail-digest/internal/domain"
)

// Confirmer читает ответ y/n из in и пишет вопрос в out.
type Confirmer struct {
	in  *bufio.Reader
	out io.Writer
}

var _ domain.Confirmer = (*Confirmer)(nil)

// New создаёт подтверждение поверх потоков ввода-вывода.
func New(in io.Reader, out io.Writer) *Confirmer {
	return &Confirmer{in: bufio.NewReader(in), out: out}
}

// Confirm задаёт вопрос и ждёт ответа. Пустой ответ и конец ввода означают отказ.
func (c *Confirmer) Confirm(question string) (bool, error) {
	fmt.Fprintf(c.out, "%s [y/N]: ", question)
	line, err := c.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("prompt: read answer: %w", err)
	}
	if errors.Is(err, io.EOF) {
		fmt.Fprintln(c.out)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "д", "да":
		return true, nil
	default:
		return false, nil
	}
}

// Always подтверждает без вопроса, для флага --yes.
type Always struct{}

// Confirm всегда возвращает true.
func (Always) Confirm(string) (bool, error) { return true, nil }
