package exchange

import (
	"errors"
	"fmt"
)

// ErrorKind - класс ошибки биржи
type ErrorKind string

const (
	KindAuthentication      ErrorKind = "authentication"
	KindRateLimit           ErrorKind = "rate_limit"
	KindInsufficientBalance ErrorKind = "insufficient_balance"
	KindInvalidOrder        ErrorKind = "invalid_order"
	KindOrderNotFound       ErrorKind = "order_not_found"
	KindNetwork             ErrorKind = "network"
	KindTimeout             ErrorKind = "timeout"
)

// Sentinel-ошибки для errors.Is
var (
	ErrAuthentication      = errors.New("exchange authentication failed")
	ErrRateLimit           = errors.New("exchange rate limit exceeded")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidOrder        = errors.New("invalid order")
	ErrOrderNotFound       = errors.New("order not found")
	ErrNetwork             = errors.New("exchange network error")
	ErrTimeout             = errors.New("exchange request timed out")
)

var sentinels = map[ErrorKind]error{
	KindAuthentication:      ErrAuthentication,
	KindRateLimit:           ErrRateLimit,
	KindInsufficientBalance: ErrInsufficientBalance,
	KindInvalidOrder:        ErrInvalidOrder,
	KindOrderNotFound:       ErrOrderNotFound,
	KindNetwork:             ErrNetwork,
	KindTimeout:             ErrTimeout,
}

// Error - ошибка биржи с классом, кодом и исходной причиной
type Error struct {
	Kind       ErrorKind
	Exchange   string
	Code       string
	Message    string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Exchange, e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Code != "" {
		msg += " (code " + e.Code + ")"
	}
	return msg
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is сопоставляет ошибку с sentinel её класса
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// Retryable - можно ли повторить запрос позже.
// Отказы по бизнес-правилам (баланс, параметры, авторизация) не повторяются.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindNetwork, KindTimeout:
		return true
	}
	return false
}

// newError создаёт ошибку заданного класса.
// Если cause уже *Error, она возвращается без повторной обёртки.
func newError(exchange string, kind ErrorKind, code, message string, cause error) *Error {
	var existing *Error
	if errors.As(cause, &existing) {
		return existing
	}
	return &Error{
		Kind:     kind,
		Exchange: exchange,
		Code:     code,
		Message:  message,
		Cause:    cause,
	}
}

// KindOf возвращает класс ошибки биржи, если err её содержит
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
