// handler.go — основной обработчик API DOI Registrar.
// Объединяет health и бизнес-обработчики, делегируя запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/doi-registrar/internal/api/errors"
	"github.com/bigkaa/goartstore/doi-registrar/internal/crossref"
	"github.com/bigkaa/goartstore/doi-registrar/internal/metadata"
	"github.com/bigkaa/goartstore/doi-registrar/internal/repository"
	"github.com/bigkaa/goartstore/doi-registrar/internal/service"
)

// maxBodyBytes — ограничение размера тела запроса.
const maxBodyBytes = 1 << 20

// APIHandler — основной обработчик API DOI Registrar.
type APIHandler struct {
	health        *HealthHandler
	registrations *service.RegistrationService
	provider      *service.Provider
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	registrations *service.RegistrationService,
	provider *service.Provider,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:        health,
		registrations: registrations,
		provider:      provider,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса в dst. При ошибке ответ уже записан.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return false
	}
	return true
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var renderErr *metadata.RenderError

	switch {
	case errors.Is(err, service.ErrInvalidIdentifier), errors.Is(err, service.ErrObjectRequired),
		errors.Is(err, service.ErrInvalidStatus):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, repository.ErrConflict):
		apierrors.Conflict(w, "Запись кэша изменена параллельным запросом, повторите операцию")
	case errors.Is(err, repository.ErrCacheInconsistency):
		h.logger.Error("Нарушена целостность кэша регистрации",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.CacheInconsistency(w, err.Error())
	case errors.As(err, &renderErr):
		h.logger.Error("Ошибка формирования документа CrossRef", slog.String("error", err.Error()))
		apierrors.RenderError(w, renderErr.Error())
	default:
		if rejected, ok := crossref.IsRejected(err); ok {
			apierrors.AuthorityRejected(w, rejected.StatusCode, rejected.Error())
			return
		}
		if crossref.IsTransport(err) {
			apierrors.AuthorityUnavailable(w, err.Error())
			return
		}
		if errors.Is(err, service.ErrIdentifierExhausted) {
			apierrors.WriteError(w, http.StatusServiceUnavailable, apierrors.CodeInternalError, err.Error())
			return
		}
		h.logger.Error("Внутренняя ошибка",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
