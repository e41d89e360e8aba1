// objects.go — операции над объектами (датасет или файл) уровня провайдера DOI.
// POST /api/v1/objects/identifier — назначить и зарезервировать идентификатор
// POST /api/v1/objects/publicize  — опубликовать идентификатор
// POST /api/v1/objects/target     — обновить target URL в CrossRef
// POST /api/v1/objects/metadata   — метаданные CrossRef для объекта
// GET  /api/v1/objects/lookup     — метаданные CrossRef по частям идентификатора
package handlers

import (
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/goartstore/doi-registrar/internal/api/errors"
	"github.com/bigkaa/goartstore/doi-registrar/internal/domain/model"
)

// objectRequest — тело запросов с описанием объекта.
type objectRequest struct {
	Object *model.ContentObject `json:"object"`
}

type identifierResponse struct {
	PersistentID string `json:"persistentId"`
}

type publicizeResponse struct {
	PersistentID string `json:"persistentId"`
	Published    bool   `json:"published"`
	TargetURL    string `json:"targetUrl"`
}

// decodeObject читает объект из тела и проверяет его наличие.
func decodeObject(w http.ResponseWriter, r *http.Request) (*model.ContentObject, bool) {
	var body objectRequest
	if !decodeJSON(w, r, &body) {
		return nil, false
	}
	if body.Object == nil {
		apierrors.ValidationError(w, "Не задан объект")
		return nil, false
	}
	return body.Object, true
}

// ObjectCreateIdentifier — POST /api/v1/objects/identifier.
// Объект без идентификатора получает новый из пространства DR_DOI_AUTHORITY/DR_DOI_SHOULDER.
func (h *APIHandler) ObjectCreateIdentifier(w http.ResponseWriter, r *http.Request) {
	obj, ok := decodeObject(w, r)
	if !ok {
		return
	}
	id, err := h.provider.CreateIdentifier(r.Context(), obj)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, identifierResponse{PersistentID: id})
}

// ObjectPublicize — POST /api/v1/objects/publicize.
// Ошибки публикации не выдаются клиенту: published=false, подробности в логе.
func (h *APIHandler) ObjectPublicize(w http.ResponseWriter, r *http.Request) {
	obj, ok := decodeObject(w, r)
	if !ok {
		return
	}
	published := h.provider.PublicizeIdentifier(r.Context(), obj)
	writeJSON(w, http.StatusOK, publicizeResponse{
		PersistentID: obj.GlobalID(),
		Published:    published,
		TargetURL:    h.provider.TargetURL(obj),
	})
}

// ObjectModifyTarget — POST /api/v1/objects/target.
func (h *APIHandler) ObjectModifyTarget(w http.ResponseWriter, r *http.Request) {
	obj, ok := decodeObject(w, r)
	if !ok {
		return
	}
	id, res, err := h.provider.ModifyIdentifierTargetURL(r.Context(), obj)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newModifyResponse(id, res))
}

// ObjectMetadata — POST /api/v1/objects/metadata.
func (h *APIHandler) ObjectMetadata(w http.ResponseWriter, r *http.Request) {
	obj, ok := decodeObject(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, metadataResponse{
		PersistentID: obj.GlobalID(),
		Metadata:     h.provider.GetIdentifierMetadata(r.Context(), obj),
	})
}

// ObjectLookup — GET /api/v1/objects/lookup?protocol=doi&authority=10.5072&identifier=FK2/ABCDEF
func (h *APIHandler) ObjectLookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	protocol := strings.TrimSpace(q.Get("protocol"))
	authority := strings.TrimSpace(q.Get("authority"))
	identifier := strings.TrimSpace(q.Get("identifier"))
	if authority == "" || identifier == "" {
		apierrors.ValidationError(w, "Параметры authority и identifier обязательны")
		return
	}
	writeJSON(w, http.StatusOK, metadataResponse{
		PersistentID: model.FormatIdentifier(protocol, authority, identifier),
		Metadata:     h.provider.LookupMetadataFromIdentifier(r.Context(), protocol, authority, identifier),
	})
}
