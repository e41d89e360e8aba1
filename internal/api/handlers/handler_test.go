package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/doi-registrar/internal/crossref"
	"github.com/bigkaa/goartstore/doi-registrar/internal/domain/model"
	"github.com/bigkaa/goartstore/doi-registrar/internal/metadata"
	"github.com/bigkaa/goartstore/doi-registrar/internal/repository"
	"github.com/bigkaa/goartstore/doi-registrar/internal/service"
)

// --- Моки ---

// memRepo — in-memory RegistrationCacheRepository.
type memRepo struct {
	mu      sync.Mutex
	records map[string]model.RegistrationCacheRecord
	findErr error
}

func newMemRepo() *memRepo {
	return &memRepo{records: make(map[string]model.RegistrationCacheRecord)}
}

func (m *memRepo) FindByIdentifier(_ context.Context, identifier string) (*model.RegistrationCacheRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	rec, ok := m.records[identifier]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rec, nil
}

func (m *memRepo) Upsert(_ context.Context, rec *model.RegistrationCacheRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[rec.Identifier]
	if (ok && cur.Version != rec.Version) || (!ok && rec.Version != 0) {
		return repository.ErrConflict
	}
	now := time.Now()
	if !ok {
		rec.ID = int64(len(m.records) + 1)
		rec.CreatedAt = now
	}
	rec.Version++
	rec.UpdatedAt = now
	m.records[rec.Identifier] = *rec
	return nil
}

func (m *memRepo) get(identifier string) (model.RegistrationCacheRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[identifier]
	return rec, ok
}

// fakeAuthority — управляемая замена клиента CrossRef.
type fakeAuthority struct {
	mu        sync.Mutex
	submits   int
	submitErr error
	exists    bool
	metadata  string
}

func (f *fakeAuthority) Exists(_ context.Context, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists
}

func (f *fakeAuthority) FetchMetadata(_ context.Context, doi string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metadata == "" {
		return "", &crossref.AuthorityRejectedError{Op: "fetch_metadata", StatusCode: http.StatusNotFound, Body: doi}
	}
	return f.metadata, nil
}

func (f *fakeAuthority) Submit(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "<html>SUCCESS</html>", nil
}

func (f *fakeAuthority) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

// --- Helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testEnv struct {
	handler   *APIHandler
	repo      *memRepo
	authority *fakeAuthority
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tmpl, err := metadata.DefaultTemplate()
	if err != nil {
		t.Fatalf("Ошибка загрузки шаблона: %v", err)
	}
	repo := newMemRepo()
	authority := &fakeAuthority{}
	registrations := service.NewRegistrationService(
		repo, authority, metadata.NewRenderer(tmpl),
		service.DepositSettings{
			Depositor:      "Test Depositor",
			DepositorEmail: "doi@example.org",
			Institution:    "Example Institution",
			SiteURL:        "https://data.example.org",
		},
		service.NewLookupCache(100, time.Minute),
		testLogger(),
	)
	provider := service.NewProvider(registrations, service.ProviderSettings{
		Authority: "10.5072",
		Shoulder:  "FK2/",
		SiteURL:   "https://data.example.org",
	}, testLogger())

	return &testEnv{
		handler:   NewAPIHandler(NewHealthHandler(nil, nil), registrations, provider, testLogger()),
		repo:      repo,
		authority: authority,
	}
}

const testID = "doi:10.5072/X1"

func datasetJSON(identifier string) string {
	return `{"kind":"dataset","protocol":"doi","authority":"10.5072","identifier":"` + identifier +
		`","title":"Data Set A","authors":[{"name":"Doe, Jane"}]}`
}

func pidBody(id, attrs string) string {
	if attrs == "" {
		attrs = "{}"
	}
	return `{"persistentId":"` + id + `","object":` + datasetJSON("X1") + `,"attributes":` + attrs + `}`
}

func serve(h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Невалидный JSON ответа %q: %v", rec.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	detail, _ := body["error"].(map[string]any)
	code, _ := detail["code"].(string)
	return code
}

func seed(t *testing.T, repo *memRepo, status model.Status, target string) {
	t.Helper()
	rec := &model.RegistrationCacheRecord{Identifier: testID, Status: status, Document: "<old/>"}
	if target != "" {
		rec.TargetURL = &target
	}
	if err := repo.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

// --- /api/v1/pids ---

func TestPIDExists(t *testing.T) {
	env := newTestEnv(t)
	env.authority.exists = true

	rec := serve(env.handler.PIDExists, http.MethodGet, "/api/v1/pids/exists?persistentId="+testID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["exists"] != true || body["persistentId"] != testID {
		t.Errorf("ответ = %v", body)
	}

	rec = serve(env.handler.PIDExists, http.MethodGet, "/api/v1/pids/exists", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("без persistentId статус = %d, ожидался 400", rec.Code)
	}
}

func TestPIDMetadata(t *testing.T) {
	env := newTestEnv(t)
	env.authority.metadata = `{"title":"Data Set A","year":2024}`

	rec := serve(env.handler.PIDMetadata, http.MethodGet, "/api/v1/pids/metadata?persistentId="+testID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	md, _ := decodeBody(t, rec)["metadata"].(map[string]any)
	if md["title"] != "Data Set A" || md["year"] != "2024" {
		t.Errorf("metadata = %v", md)
	}
}

func TestPIDCacheRecord(t *testing.T) {
	env := newTestEnv(t)

	rec := serve(env.handler.PIDCacheRecord, http.MethodGet, "/api/v1/pids/cache?persistentId="+testID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("без записи статус = %d, ожидался 404", rec.Code)
	}

	seed(t, env.repo, model.StatusReserved, "https://t/1")
	rec = serve(env.handler.PIDCacheRecord, http.MethodGet, "/api/v1/pids/cache?persistentId="+testID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "reserved" || body["targetUrl"] != "https://t/1" || body["version"] != float64(1) {
		t.Errorf("ответ = %v", body)
	}
}

func TestPIDReserve(t *testing.T) {
	env := newTestEnv(t)

	rec := serve(env.handler.PIDReserve, http.MethodPost, "/api/v1/pids/reserve", pidBody(testID, ""))
	if rec.Code != http.StatusOK || decodeBody(t, rec)["outcome"] != "no_record" {
		t.Fatalf("без записи: %d %s", rec.Code, rec.Body.String())
	}

	seed(t, env.repo, model.StatusReserved, "")
	rec = serve(env.handler.PIDReserve, http.MethodPost, "/api/v1/pids/reserve", pidBody(testID, `{"target":"https://t/2"}`))
	if rec.Code != http.StatusOK || decodeBody(t, rec)["outcome"] != "updated" {
		t.Fatalf("с записью: %d %s", rec.Code, rec.Body.String())
	}
	stored, _ := env.repo.get(testID)
	if stored.Target() != "https://t/2" || stored.Status != model.StatusReserved {
		t.Errorf("запись = %+v", stored)
	}
	if env.authority.submitCount() != 0 {
		t.Error("reserve не должен обращаться к CrossRef")
	}
}

func TestPIDModify_InvalidStatus(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env.repo, model.StatusReserved, "")

	rec := serve(env.handler.PIDModify, http.MethodPost, "/api/v1/pids/modify", pidBody(testID, `{"status":"deleted"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("статус = %d, ожидался 400: %s", rec.Code, rec.Body.String())
	}
	if stored, _ := env.repo.get(testID); stored.Status != model.StatusReserved {
		t.Errorf("запись не должна меняться: %+v", stored)
	}
}

func TestPIDRegister(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env.repo, model.StatusReserved, "https://t/1")

	rec := serve(env.handler.PIDRegister, http.MethodPost, "/api/v1/pids/register", pidBody(testID, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["outcome"] != "submitted" || body["cacheUpdated"] != true || body["authorityResponse"] != "<html>SUCCESS</html>" {
		t.Errorf("ответ = %v", body)
	}
	stored, _ := env.repo.get(testID)
	if stored.Status != model.StatusPublic {
		t.Errorf("Status = %s, ожидался public", stored.Status)
	}
}

func TestPIDRegister_AuthorityRejected(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env.repo, model.StatusReserved, "")
	env.authority.submitErr = &crossref.AuthorityRejectedError{Op: "submit", StatusCode: http.StatusServiceUnavailable, Body: "down"}

	rec := serve(env.handler.PIDRegister, http.MethodPost, "/api/v1/pids/register", pidBody(testID, ""))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("статус = %d, ожидался 502", rec.Code)
	}
	detail, _ := decodeBody(t, rec)["error"].(map[string]any)
	if detail["code"] != "AUTHORITY_REJECTED" || detail["authorityStatus"] != float64(503) {
		t.Errorf("error = %v", detail)
	}
	// Локальное изменение не откатывается.
	if stored, _ := env.repo.get(testID); stored.Status != model.StatusPublic {
		t.Errorf("Status = %s, ожидался public", stored.Status)
	}
}

func TestPIDRegister_TransportError(t *testing.T) {
	env := newTestEnv(t)
	env.authority.submitErr = &crossref.TransportError{Op: "submit", Err: errors.New("connection refused")}

	rec := serve(env.handler.PIDRegister, http.MethodPost, "/api/v1/pids/register", pidBody(testID, ""))
	if rec.Code != http.StatusBadGateway || errorCode(t, rec) != "AUTHORITY_UNAVAILABLE" {
		t.Errorf("ответ = %d %s", rec.Code, rec.Body.String())
	}
}

func TestPIDModify(t *testing.T) {
	env := newTestEnv(t)

	// Непустые атрибуты — запись создаётся со статусом reserved.
	rec := serve(env.handler.PIDModify, http.MethodPost, "/api/v1/pids/modify", pidBody(testID, `{"target":"https://t/3"}`))
	if rec.Code != http.StatusOK || decodeBody(t, rec)["outcome"] != "updated" {
		t.Fatalf("modify reserved: %d %s", rec.Code, rec.Body.String())
	}
	stored, ok := env.repo.get(testID)
	if !ok || stored.Status != model.StatusReserved || stored.Target() != "https://t/3" {
		t.Fatalf("запись = %+v", stored)
	}

	// Пустые атрибуты и сбой CrossRef — 200 с submit_failed.
	env.authority.submitErr = &crossref.AuthorityRejectedError{Op: "submit", StatusCode: http.StatusInternalServerError, Body: "err"}
	rec = serve(env.handler.PIDModify, http.MethodPost, "/api/v1/pids/modify", pidBody(testID, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["outcome"] != "submit_failed" || body["submitError"] == nil {
		t.Errorf("ответ = %v", body)
	}
	if stored, _ := env.repo.get(testID); stored.Status != model.StatusPublic {
		t.Errorf("Status = %s, ожидался public", stored.Status)
	}
}

func TestPIDHandlers_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		handler  http.HandlerFunc
		body     string
		wantCode int
		wantErr  string
	}{
		{"невалидный JSON", env.handler.PIDRegister, `{`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"пустой идентификатор", env.handler.PIDRegister, pidBody("", ""), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"идентификатор без префикса", env.handler.PIDReserve, pidBody("doi:X1", ""), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"нет объекта", env.handler.PIDModify, `{"persistentId":"` + testID + `"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(tt.handler, http.MethodPost, "/api/v1/pids/x", tt.body)
			if rec.Code != tt.wantCode || errorCode(t, rec) != tt.wantErr {
				t.Errorf("ответ = %d %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestPIDHandlers_CacheErrors(t *testing.T) {
	tests := []struct {
		name     string
		findErr  error
		wantCode int
		wantErr  string
	}{
		{"несогласованный кэш", repository.ErrCacheInconsistency, http.StatusInternalServerError, "CACHE_INCONSISTENCY"},
		{"конфликт", repository.ErrConflict, http.StatusConflict, "CONFLICT"},
		{"прочая ошибка", errors.New("db down"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.repo.findErr = tt.findErr

			rec := serve(env.handler.PIDRegister, http.MethodPost, "/api/v1/pids/register", pidBody(testID, ""))
			if rec.Code != tt.wantCode || errorCode(t, rec) != tt.wantErr {
				t.Errorf("ответ = %d %s", rec.Code, rec.Body.String())
			}
			if env.authority.submitCount() != 0 {
				t.Error("при ошибке кэша отправки быть не должно")
			}
		})
	}
}

func TestWriteServiceError_RenderError(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pids/register", http.NoBody)

	env.handler.writeServiceError(rec, req, &metadata.RenderError{Reason: "шаблон не загружен"})
	if rec.Code != http.StatusInternalServerError || errorCode(t, rec) != "RENDER_ERROR" {
		t.Errorf("ответ = %d %s", rec.Code, rec.Body.String())
	}
}

// --- /api/v1/objects ---

func TestObjectCreateIdentifier(t *testing.T) {
	env := newTestEnv(t)

	rec := serve(env.handler.ObjectCreateIdentifier, http.MethodPost, "/api/v1/objects/identifier",
		`{"object":{"kind":"dataset","title":"New"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("статус = %d: %s", rec.Code, rec.Body.String())
	}
	id, _ := decodeBody(t, rec)["persistentId"].(string)
	if !strings.HasPrefix(id, "doi:10.5072/FK2/") || len(id) != len("doi:10.5072/FK2/")+6 {
		t.Errorf("persistentId = %q", id)
	}

	rec = serve(env.handler.ObjectCreateIdentifier, http.MethodPost, "/api/v1/objects/identifier", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("без объекта статус = %d, ожидался 400", rec.Code)
	}
}

func TestObjectPublicize(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env.repo, model.StatusReserved, "")

	rec := serve(env.handler.ObjectPublicize, http.MethodPost, "/api/v1/objects/publicize", `{"object":`+datasetJSON("X1")+`}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["published"] != true {
		t.Errorf("published = %v", body["published"])
	}
	wantTarget := "https://data.example.org/dataset.xhtml?persistentId=" + testID
	if body["targetUrl"] != wantTarget {
		t.Errorf("targetUrl = %v, ожидался %s", body["targetUrl"], wantTarget)
	}
	if stored, _ := env.repo.get(testID); stored.Target() != wantTarget || stored.Status != model.StatusPublic {
		t.Errorf("запись = %+v", stored)
	}

	rec = serve(env.handler.ObjectPublicize, http.MethodPost, "/api/v1/objects/publicize", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("без объекта статус = %d, ожидался 400", rec.Code)
	}
}

// Объекту без идентификатора он назначается при публикации.
func TestObjectPublicize_AssignsIdentifier(t *testing.T) {
	env := newTestEnv(t)

	rec := serve(env.handler.ObjectPublicize, http.MethodPost, "/api/v1/objects/publicize", `{"object":{"kind":"dataset","title":"x"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	id, _ := body["persistentId"].(string)
	if !strings.HasPrefix(id, "doi:10.5072/FK2/") {
		t.Errorf("persistentId = %q, ожидался сгенерированный", id)
	}
	if body["published"] != true {
		t.Errorf("published = %v", body["published"])
	}
	if env.authority.submitCount() != 1 {
		t.Errorf("отправок = %d, ожидалась 1", env.authority.submitCount())
	}
}

func TestObjectPublicize_Failure(t *testing.T) {
	env := newTestEnv(t)
	env.authority.submitErr = &crossref.TransportError{Op: "submit", Err: errors.New("timeout")}

	rec := serve(env.handler.ObjectPublicize, http.MethodPost, "/api/v1/objects/publicize", `{"object":`+datasetJSON("X1")+`}`)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["published"] != false {
		t.Errorf("ответ = %d %s", rec.Code, rec.Body.String())
	}
}

func TestObjectModifyTarget(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env.repo, model.StatusReserved, "https://t/1")

	// CrossRef метаданных не вернул — пустые атрибуты, публикация.
	rec := serve(env.handler.ObjectModifyTarget, http.MethodPost, "/api/v1/objects/target", `{"object":`+datasetJSON("X1")+`}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["outcome"] != "submitted" || body["persistentId"] != testID {
		t.Errorf("ответ = %v", body)
	}
	if env.authority.submitCount() != 1 {
		t.Errorf("отправок = %d, ожидалась 1", env.authority.submitCount())
	}
}

func TestObjectMetadataAndLookup(t *testing.T) {
	env := newTestEnv(t)
	env.authority.metadata = `{"title":"Data Set A"}`

	rec := serve(env.handler.ObjectMetadata, http.MethodPost, "/api/v1/objects/metadata", `{"object":`+datasetJSON("X1")+`}`)
	md, _ := decodeBody(t, rec)["metadata"].(map[string]any)
	if rec.Code != http.StatusOK || md["title"] != "Data Set A" {
		t.Errorf("metadata: %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(env.handler.ObjectLookup, http.MethodGet, "/api/v1/objects/lookup?protocol=doi&authority=10.5072&identifier=X1", "")
	body := decodeBody(t, rec)
	md, _ = body["metadata"].(map[string]any)
	if rec.Code != http.StatusOK || body["persistentId"] != testID || md["title"] != "Data Set A" {
		t.Errorf("lookup: %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(env.handler.ObjectLookup, http.MethodGet, "/api/v1/objects/lookup?identifier=X1", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("без authority статус = %d, ожидался 400", rec.Code)
	}
}
