package service

import "errors"

// Ошибки слоя сервисов.
var (
	// ErrInvalidIdentifier — идентификатор пустой или не содержит префикса.
	ErrInvalidIdentifier = errors.New("некорректный идентификатор")
	// ErrObjectRequired — не передан объект, для которого формируются метаданные.
	ErrObjectRequired = errors.New("не задан объект для идентификатора")
	// ErrInvalidStatus — запрошен статус, отличный от reserved/public.
	ErrInvalidStatus = errors.New("некорректный статус")
	// ErrIdentifierExhausted — не удалось подобрать свободный идентификатор.
	ErrIdentifierExhausted = errors.New("не удалось сгенерировать уникальный идентификатор")
)
