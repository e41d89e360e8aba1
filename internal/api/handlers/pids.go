// pids.go — операции жизненного цикла DOI по полному идентификатору.
// GET  /api/v1/pids/exists, /api/v1/pids/metadata, /api/v1/pids/cache
// POST /api/v1/pids/reserve, /api/v1/pids/register, /api/v1/pids/modify
package handlers

import (
	"net/http"
	"strings"
	"time"

	apierrors "github.com/bigkaa/goartstore/doi-registrar/internal/api/errors"
	"github.com/bigkaa/goartstore/doi-registrar/internal/domain/model"
	"github.com/bigkaa/goartstore/doi-registrar/internal/service"
)

// queryPersistentID — имя query-параметра с идентификатором.
const queryPersistentID = "persistentId"

// pidRequest — тело POST-запросов жизненного цикла.
type pidRequest struct {
	PersistentID string                  `json:"persistentId"`
	Object       *model.ContentObject    `json:"object"`
	Attributes   model.RequestAttributes `json:"attributes"`
}

func (p *pidRequest) toModel() *model.RegistrationRequest {
	return &model.RegistrationRequest{
		Identifier: strings.TrimSpace(p.PersistentID),
		Object:     p.Object,
		Attributes: p.Attributes,
	}
}

type existsResponse struct {
	PersistentID string `json:"persistentId"`
	Exists       bool   `json:"exists"`
}

type metadataResponse struct {
	PersistentID string            `json:"persistentId"`
	Metadata     map[string]string `json:"metadata"`
}

type cacheRecordResponse struct {
	PersistentID string    `json:"persistentId"`
	Status       string    `json:"status"`
	TargetURL    *string   `json:"targetUrl"`
	Document     string    `json:"document"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type reserveResponse struct {
	PersistentID string `json:"persistentId"`
	Outcome      string `json:"outcome"`
}

type registerResponse struct {
	PersistentID      string `json:"persistentId"`
	Outcome           string `json:"outcome"`
	CacheUpdated      bool   `json:"cacheUpdated"`
	AuthorityResponse string `json:"authorityResponse,omitempty"`
}

type modifyResponse struct {
	PersistentID      string `json:"persistentId"`
	Outcome           string `json:"outcome"`
	AuthorityResponse string `json:"authorityResponse,omitempty"`
	SubmitError       string `json:"submitError,omitempty"`
}

func newModifyResponse(identifier string, res *service.ModifyResult) modifyResponse {
	resp := modifyResponse{
		PersistentID:      identifier,
		Outcome:           string(res.Outcome),
		AuthorityResponse: res.AuthorityResponse,
	}
	if res.SubmitErr != nil {
		resp.SubmitError = res.SubmitErr.Error()
	}
	return resp
}

// persistentIDParam читает обязательный query-параметр persistentId.
func persistentIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.URL.Query().Get(queryPersistentID))
	if id == "" {
		apierrors.ValidationError(w, "Не задан параметр persistentId")
		return "", false
	}
	return id, true
}

// PIDExists — GET /api/v1/pids/exists?persistentId=...
// Сбой CrossRef трактуется как «не существует».
func (h *APIHandler) PIDExists(w http.ResponseWriter, r *http.Request) {
	id, ok := persistentIDParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, existsResponse{
		PersistentID: id,
		Exists:       h.registrations.Exists(r.Context(), id),
	})
}

// PIDMetadata — GET /api/v1/pids/metadata?persistentId=...
// При любом сбое возвращается пустой набор метаданных.
func (h *APIHandler) PIDMetadata(w http.ResponseWriter, r *http.Request) {
	id, ok := persistentIDParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, metadataResponse{
		PersistentID: id,
		Metadata:     h.registrations.GetMetadata(r.Context(), id),
	})
}

// PIDCacheRecord — GET /api/v1/pids/cache?persistentId=...
// Возвращает локальную запись кэша регистрации.
func (h *APIHandler) PIDCacheRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := persistentIDParam(w, r)
	if !ok {
		return
	}
	rec, err := h.registrations.FindRecord(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if rec == nil {
		apierrors.NotFound(w, "Запись кэша для "+id+" не найдена")
		return
	}
	writeJSON(w, http.StatusOK, cacheRecordResponse{
		PersistentID: rec.Identifier,
		Status:       string(rec.Status),
		TargetURL:    rec.TargetURL,
		Document:     rec.Document,
		Version:      rec.Version,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	})
}

// PIDReserve — POST /api/v1/pids/reserve.
func (h *APIHandler) PIDReserve(w http.ResponseWriter, r *http.Request) {
	var body pidRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	req := body.toModel()
	outcome, err := h.registrations.Reserve(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reserveResponse{PersistentID: req.Identifier, Outcome: string(outcome)})
}

// PIDRegister — POST /api/v1/pids/register.
// Отказ CrossRef возвращается как 502 AUTHORITY_REJECTED.
func (h *APIHandler) PIDRegister(w http.ResponseWriter, r *http.Request) {
	var body pidRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	req := body.toModel()
	res, err := h.registrations.Register(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{
		PersistentID:      req.Identifier,
		Outcome:           string(res.Outcome),
		CacheUpdated:      res.CacheUpdated,
		AuthorityResponse: res.AuthorityResponse,
	})
}

// PIDModify — POST /api/v1/pids/modify.
// Отказ CrossRef при публикации не является ошибкой запроса: outcome submit_failed.
func (h *APIHandler) PIDModify(w http.ResponseWriter, r *http.Request) {
	var body pidRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	req := body.toModel()
	res, err := h.registrations.Modify(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newModifyResponse(req.Identifier, res))
}
