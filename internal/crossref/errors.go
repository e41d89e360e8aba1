package crossref

import (
	"errors"
	"fmt"
)

// ErrClientClosed — операция вызвана после Close.
var ErrClientClosed = errors.New("клиент CrossRef закрыт")

// TransportError — сетевая ошибка или ошибка соединения с CrossRef.
type TransportError struct {
	// Op — операция (exists, fetch_metadata, submit)
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("CrossRef %s: ошибка транспорта: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AuthorityRejectedError — CrossRef ответил статусом, отличным от 200.
type AuthorityRejectedError struct {
	// Op — операция (exists, fetch_metadata, submit)
	Op string
	// StatusCode — HTTP-статус ответа
	StatusCode int
	// Body — тело ответа (для диагностики)
	Body string
}

func (e *AuthorityRejectedError) Error() string {
	return fmt.Sprintf("CrossRef %s: ответ %d, %s", e.Op, e.StatusCode, e.Body)
}

// IsTransport проверяет, что ошибка — TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRejected проверяет, что ошибка — AuthorityRejectedError, и возвращает её.
func IsRejected(err error) (*AuthorityRejectedError, bool) {
	var re *AuthorityRejectedError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
