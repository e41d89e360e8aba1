package model

import "strings"

// RequestAttributes — типизированные атрибуты запроса жизненного цикла.
// Все поля опциональны, nil — атрибут не передан.
type RequestAttributes struct {
	// Target — переопределение URL landing page
	Target *string `json:"target,omitempty"`
	// Status — запрошенный статус (информационный, переход определяет операция)
	Status *Status `json:"status,omitempty"`
	// PublicationYear — год публикации
	PublicationYear *string `json:"publicationYear,omitempty"`
	// Metadata — прочие пары ключ/значение (например, метаданные, полученные из CrossRef)
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IsEmpty возвращает true, если не передан ни один атрибут.
// Для modify пустой набор означает «объект финализирован — публикуем».
func (a RequestAttributes) IsEmpty() bool {
	return a.Target == nil && a.Status == nil && a.PublicationYear == nil && len(a.Metadata) == 0
}

// TargetOverride возвращает переопределение target, если оно не пустое
// (пустая строка и строка из пробелов считаются отсутствием переопределения).
func (a RequestAttributes) TargetOverride() (string, bool) {
	if a.Target == nil || strings.TrimSpace(*a.Target) == "" {
		return "", false
	}
	return *a.Target, true
}

// RegistrationRequest — входные данные операции жизненного цикла.
type RegistrationRequest struct {
	// Identifier — полный идентификатор (doi:10.5072/ABCD)
	Identifier string
	// Object — объект, для которого формируются метаданные
	Object *ContentObject
	// Attributes — атрибуты запроса
	Attributes RequestAttributes
}
