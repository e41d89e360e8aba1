// Пакет errors — конструкторы стандартных ошибок в формате Artstore.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок API.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeConflict             = "CONFLICT"
	CodeAuthorityRejected    = "AUTHORITY_REJECTED"
	CodeAuthorityUnavailable = "AUTHORITY_UNAVAILABLE"
	CodeRenderError          = "RENDER_ERROR"
	CodeCacheInconsistency   = "CACHE_INCONSISTENCY"
	CodeInternalError        = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
// AuthorityStatus — код ответа CrossRef (только для AUTHORITY_REJECTED).
type errorDetail struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	AuthorityStatus int    `json:"authorityStatus,omitempty"`
}

// WriteError записывает ответ ошибки в стандартном формате Artstore.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	writeBody(w, statusCode, errorDetail{Code: code, Message: message})
}

func writeBody(w http.ResponseWriter, statusCode int, detail errorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{Error: detail})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Conflict — 409 запись изменена параллельным запросом.
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// AuthorityRejected — 502 CrossRef ответил кодом, отличным от 200.
func AuthorityRejected(w http.ResponseWriter, authorityStatus int, message string) {
	writeBody(w, http.StatusBadGateway, errorDetail{
		Code:            CodeAuthorityRejected,
		Message:         message,
		AuthorityStatus: authorityStatus,
	})
}

// AuthorityUnavailable — 502 CrossRef недоступен (ошибка транспорта).
func AuthorityUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeAuthorityUnavailable, message)
}

// RenderError — 500 шаблон документа недоступен или некорректен.
func RenderError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeRenderError, message)
}

// CacheInconsistency — 500 больше одной записи кэша на идентификатор.
func CacheInconsistency(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeCacheInconsistency, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
