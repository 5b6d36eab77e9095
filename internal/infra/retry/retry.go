// Package retry повторяет операции с экспоненциальной задержкой.
package retry

import (
	"context"
	"errors"
	"net/textproto"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const maxInterval = 24 * time.Hour

// Policy описывает число повторов и стартовую задержку. Задержка удваивается на каждой попытке.
type Policy struct {
	MaxRetries int
	Delay      time.Duration
	// Retryable решает, стоит ли повторять ошибку. По умолчанию IsTemporary.
	Retryable func(error) bool
	// OnRetry вызывается перед ожиданием очередной попытки.
	OnRetry func(err error, attempt int, wait time.Duration)

	timer backoff.Timer
}

// Do выполняет op не более MaxRetries+1 раз.
// Неповторяемая ошибка возвращается сразу, без ожидания.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTemporary
	}
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Delay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = maxInterval
	exp.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxRetries)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(err, attempt, wait)
		}
	}
	return backoff.RetryNotifyWithTimer(operation, b, notify, p.timer)
}

type statusCoder interface {
	StatusCode() int
}

// IsTemporary сообщает, несёт ли ошибка статус транспорта в диапазоне 4xx.
// Для SMTP это временные ответы 4yz.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var tp *textproto.Error
	if errors.As(err, &tp) {
		return tp.Code >= 400 && tp.Code < 500
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		return code >= 400 && code < 500
	}
	return false
}
