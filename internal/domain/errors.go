package domain

import "errors"

var (
	// ErrConfigFetch конфигурацию лент не удалось получить.
	ErrConfigFetch = errors.New("не удалось получить конфигурацию лент")
	// ErrInvalidConfig конфигурация лент не прошла проверку.
	ErrInvalidConfig = errors.New("некорректная конфигурация лент")
	// ErrCursorPersist курсор не удалось сохранить.
	ErrCursorPersist = errors.New("не удалось сохранить курсор")
	// ErrAborted пользователь отказался от операции.
	ErrAborted = errors.New("операция отменена пользователем")
	// ErrLabelListing не удалось получить существующие метки или правила.
	ErrLabelListing = errors.New("не удалось получить список меток или правил")
	// ErrRunInProgress прогон уже выполняется.
	ErrRunInProgress = errors.New("прогон уже выполняется")
)
