// registration.go — жизненный цикл DOI: unreserved → reserved → public.
// Связывает Metadata Renderer, кэш регистрации (PostgreSQL) и клиент CrossRef.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/doi-registrar/internal/domain/model"
	"github.com/bigkaa/goartstore/doi-registrar/internal/repository"
)

// Операции жизненного цикла (для логов и метрик).
const (
	opReserve  = "reserve"
	opRegister = "register"
	opModify   = "modify"
)

// Prometheus-метрики жизненного цикла.
var registrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dr_registrations_total",
	Help: "Общее количество операций жизненного цикла DOI (по операции и результату).",
}, []string{"operation", "outcome"})

// Outcome — результат операции для вызывающего кода.
type Outcome string

const (
	// OutcomeNoRecord — записи в кэше нет, ничего не изменено.
	OutcomeNoRecord Outcome = "no_record"
	// OutcomeUpdated — запись кэша обновлена локально, в CrossRef ничего не отправлялось.
	OutcomeUpdated Outcome = "updated"
	// OutcomeSubmitted — документ принят CrossRef.
	OutcomeSubmitted Outcome = "submitted"
	// OutcomeSubmitFailed — кэш обновлён, но CrossRef документ не принял (только modify).
	OutcomeSubmitFailed Outcome = "submit_failed"
)

// Authority — операции регистрационного агентства, нужные жизненному циклу.
// Реализуется *crossref.Client.
type Authority interface {
	Exists(ctx context.Context, doi string) bool
	FetchMetadata(ctx context.Context, doi string) (string, error)
	Submit(ctx context.Context, document string) (string, error)
}

// MetadataRenderer формирует deposit-документ. Реализуется *metadata.Renderer.
type MetadataRenderer interface {
	Render(identifier string, obj *model.ContentObject, depositor, depositorEmail, institution, baseURL string) (string, error)
}

// DepositSettings — параметры депонента, подставляемые в документ.
type DepositSettings struct {
	Depositor      string
	DepositorEmail string
	Institution    string
	// SiteURL — базовый URL landing page
	SiteURL string
}

// RegisterResult — результат register.
type RegisterResult struct {
	Outcome Outcome
	// CacheUpdated — запись кэша существовала и переведена в public
	CacheUpdated bool
	// AuthorityResponse — тело ответа CrossRef без изменений
	AuthorityResponse string
}

// ModifyResult — результат modify.
// Ошибка отправки в CrossRef не возвращается как error, а передаётся в SubmitErr.
type ModifyResult struct {
	Outcome           Outcome
	AuthorityResponse string
	SubmitErr         error
}

// RegistrationService — оркестратор жизненного цикла DOI.
// Изменения записи кэша для одного идентификатора сериализуются внутри
// процесса; между экземплярами конфликт ловит версия строки в БД.
type RegistrationService struct {
	cacheRepo repository.RegistrationCacheRepository
	authority Authority
	renderer  MetadataRenderer
	settings  DepositSettings
	lookups   *LookupCache
	locks     *keyedMutex
	logger    *slog.Logger
}

// NewRegistrationService создаёт оркестратор.
// lookups может быть nil — тогда метаданные CrossRef не кэшируются.
func NewRegistrationService(
	cacheRepo repository.RegistrationCacheRepository,
	authority Authority,
	renderer MetadataRenderer,
	settings DepositSettings,
	lookups *LookupCache,
	logger *slog.Logger,
) *RegistrationService {
	return &RegistrationService{
		cacheRepo: cacheRepo,
		authority: authority,
		renderer:  renderer,
		settings:  settings,
		lookups:   lookups,
		locks:     newKeyedMutex(),
		logger:    logger.With(slog.String("component", "registration_service")),
	}
}

// Exists проверяет, известен ли идентификатор CrossRef. Кэш не затрагивается.
// Ошибки не возвращаются: любой сбой даёт false.
func (s *RegistrationService) Exists(ctx context.Context, identifier string) bool {
	doi := model.Suffix(strings.TrimSpace(identifier))
	if doi == "" {
		return false
	}
	return s.authority.Exists(ctx, doi)
}

// Reserve обновляет документ существующей записи и переводит её в reserved.
// Без записи ничего не делает (OutcomeNoRecord). В CrossRef ничего не отправляется.
// Непустое переопределение target заменяет сохранённый URL.
func (s *RegistrationService) Reserve(ctx context.Context, req *model.RegistrationRequest) (Outcome, error) {
	if err := validateRequest(req); err != nil {
		return "", err
	}

	document, err := s.render(req)
	if err != nil {
		registrationsTotal.WithLabelValues(opReserve, "error").Inc()
		return "", err
	}

	unlock := s.locks.Lock(req.Identifier)
	defer unlock()

	rec, err := s.find(ctx, req.Identifier)
	if err != nil {
		registrationsTotal.WithLabelValues(opReserve, "error").Inc()
		return "", err
	}
	if rec == nil {
		registrationsTotal.WithLabelValues(opReserve, string(OutcomeNoRecord)).Inc()
		s.logger.Info("Запись кэша не найдена, reserve не выполнен",
			slog.String("identifier", req.Identifier),
		)
		return OutcomeNoRecord, nil
	}

	rec.Document = document
	rec.Status = rec.Status.Advance(model.StatusReserved)
	if target, ok := req.Attributes.TargetOverride(); ok {
		rec.TargetURL = &target
	}

	if err := s.cacheRepo.Upsert(ctx, rec); err != nil {
		registrationsTotal.WithLabelValues(opReserve, "error").Inc()
		return "", fmt.Errorf("reserve %s: %w", req.Identifier, err)
	}

	registrationsTotal.WithLabelValues(opReserve, string(OutcomeUpdated)).Inc()
	s.logger.Debug("Запись кэша обновлена",
		slog.String("identifier", req.Identifier),
		slog.String("status", string(rec.Status)),
	)
	return OutcomeUpdated, nil
}

// Register переводит идентификатор в public и отправляет документ в CrossRef.
// Запись кэша (если есть) сохраняется до отправки; отправка выполняется
// и без записи. Ошибка CrossRef возвращается вызывающему коду, при этом
// локальное изменение кэша не откатывается.
func (s *RegistrationService) Register(ctx context.Context, req *model.RegistrationRequest) (*RegisterResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	document, err := s.render(req)
	if err != nil {
		registrationsTotal.WithLabelValues(opRegister, "error").Inc()
		return nil, err
	}

	unlock := s.locks.Lock(req.Identifier)
	defer unlock()

	rec, err := s.find(ctx, req.Identifier)
	if err != nil {
		registrationsTotal.WithLabelValues(opRegister, "error").Inc()
		return nil, err
	}

	result := &RegisterResult{}
	if rec != nil {
		if err := s.publish(ctx, rec, document, req.Attributes); err != nil {
			registrationsTotal.WithLabelValues(opRegister, "error").Inc()
			return nil, fmt.Errorf("register %s: %w", req.Identifier, err)
		}
		result.CacheUpdated = true
	} else {
		s.logger.Info("Запись кэша не найдена, документ отправляется без неё",
			slog.String("identifier", req.Identifier),
		)
	}

	response, err := s.submit(ctx, req.Identifier, document)
	if err != nil {
		registrationsTotal.WithLabelValues(opRegister, "error").Inc()
		s.logger.Error("Ошибка регистрации DOI в CrossRef",
			slog.String("identifier", req.Identifier),
			slog.Bool("cache_updated", result.CacheUpdated),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("register %s: %w", req.Identifier, err)
	}

	result.Outcome = OutcomeSubmitted
	result.AuthorityResponse = response
	registrationsTotal.WithLabelValues(opRegister, string(OutcomeSubmitted)).Inc()
	s.logger.Info("DOI зарегистрирован",
		slog.String("identifier", req.Identifier),
		slog.Bool("cache_updated", result.CacheUpdated),
	)
	return result, nil
}

// Modify обновляет идентификатор.
//
// Непустые атрибуты — объект ещё не финализирован: запись создаётся или
// обновляется со статусом reserved, target сохраняется как передан.
// Пустые атрибуты — публикация: нужна существующая запись, статус public,
// документ отправляется в CrossRef. Сбой отправки логируется и возвращается
// в ModifyResult.SubmitErr, а не как error.
func (s *RegistrationService) Modify(ctx context.Context, req *model.RegistrationRequest) (*ModifyResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	document, err := s.render(req)
	if err != nil {
		registrationsTotal.WithLabelValues(opModify, "error").Inc()
		return nil, err
	}

	unlock := s.locks.Lock(req.Identifier)
	defer unlock()

	rec, err := s.find(ctx, req.Identifier)
	if err != nil {
		registrationsTotal.WithLabelValues(opModify, "error").Inc()
		return nil, err
	}

	if !req.Attributes.IsEmpty() {
		if rec == nil {
			rec = &model.RegistrationCacheRecord{Identifier: req.Identifier}
		}
		rec.Document = document
		rec.Status = rec.Status.Advance(model.StatusReserved)
		rec.TargetURL = req.Attributes.Target

		if err := s.cacheRepo.Upsert(ctx, rec); err != nil {
			registrationsTotal.WithLabelValues(opModify, "error").Inc()
			return nil, fmt.Errorf("modify %s: %w", req.Identifier, err)
		}
		registrationsTotal.WithLabelValues(opModify, string(OutcomeUpdated)).Inc()
		return &ModifyResult{Outcome: OutcomeUpdated}, nil
	}

	if rec == nil {
		registrationsTotal.WithLabelValues(opModify, string(OutcomeNoRecord)).Inc()
		s.logger.Info("Запись кэша не найдена, modify не выполнен",
			slog.String("identifier", req.Identifier),
		)
		return &ModifyResult{Outcome: OutcomeNoRecord}, nil
	}

	if err := s.publish(ctx, rec, document, req.Attributes); err != nil {
		registrationsTotal.WithLabelValues(opModify, "error").Inc()
		return nil, fmt.Errorf("modify %s: %w", req.Identifier, err)
	}

	response, err := s.submit(ctx, req.Identifier, document)
	if err != nil {
		registrationsTotal.WithLabelValues(opModify, string(OutcomeSubmitFailed)).Inc()
		s.logger.Warn("Ошибка отправки в CrossRef при modify, запись кэша уже public",
			slog.String("identifier", req.Identifier),
			slog.String("error", err.Error()),
		)
		return &ModifyResult{Outcome: OutcomeSubmitFailed, SubmitErr: err}, nil
	}

	registrationsTotal.WithLabelValues(opModify, string(OutcomeSubmitted)).Inc()
	return &ModifyResult{Outcome: OutcomeSubmitted, AuthorityResponse: response}, nil
}

// GetMetadata возвращает метаданные идентификатора из CrossRef.
// Строковые поля JSON-ответа передаются как есть, остальные — в виде JSON.
// При любой ошибке возвращается пустая карта.
func (s *RegistrationService) GetMetadata(ctx context.Context, identifier string) map[string]string {
	doi := model.Suffix(strings.TrimSpace(identifier))
	if doi == "" {
		return map[string]string{}
	}

	if s.lookups != nil {
		if cached, ok := s.lookups.Get(doi); ok {
			return cached
		}
	}

	raw, err := s.authority.FetchMetadata(ctx, doi)
	if err != nil {
		s.logger.Info("Метаданные CrossRef недоступны",
			slog.String("identifier", identifier),
			slog.String("error", err.Error()),
		)
		return map[string]string{}
	}

	result, err := flattenMetadata(raw)
	if err != nil {
		s.logger.Warn("Некорректный JSON метаданных CrossRef",
			slog.String("identifier", identifier),
			slog.String("error", err.Error()),
		)
		return map[string]string{}
	}

	if s.lookups != nil {
		s.lookups.Set(doi, result)
	}
	return result
}

// FindRecord возвращает запись кэша или nil, если её нет.
func (s *RegistrationService) FindRecord(ctx context.Context, identifier string) (*model.RegistrationCacheRecord, error) {
	if strings.TrimSpace(identifier) == "" {
		return nil, ErrInvalidIdentifier
	}
	return s.find(ctx, identifier)
}

// publish переводит запись в public и сохраняет её.
// Target: непустое переопределение, иначе ранее сохранённый URL.
func (s *RegistrationService) publish(
	ctx context.Context,
	rec *model.RegistrationCacheRecord,
	document string,
	attrs model.RequestAttributes,
) error {
	rec.Document = document
	rec.Status = rec.Status.Advance(model.StatusPublic)
	if target, ok := attrs.TargetOverride(); ok {
		rec.TargetURL = &target
	}
	return s.cacheRepo.Upsert(ctx, rec)
}

// submit отправляет документ и сбрасывает кэш метаданных идентификатора.
func (s *RegistrationService) submit(ctx context.Context, identifier, document string) (string, error) {
	response, err := s.authority.Submit(ctx, document)
	if s.lookups != nil {
		s.lookups.Delete(model.Suffix(identifier))
	}
	return response, err
}

// render формирует документ с параметрами депонента.
func (s *RegistrationService) render(req *model.RegistrationRequest) (string, error) {
	return s.renderer.Render(
		req.Identifier, req.Object,
		s.settings.Depositor, s.settings.DepositorEmail, s.settings.Institution, s.settings.SiteURL,
	)
}

// find возвращает запись кэша, nil — если её нет.
// ErrCacheInconsistency и ошибки БД прерывают операцию.
func (s *RegistrationService) find(ctx context.Context, identifier string) (*model.RegistrationCacheRecord, error) {
	rec, err := s.cacheRepo.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		if errors.Is(err, repository.ErrCacheInconsistency) {
			s.logger.Error("Нарушена целостность кэша регистрации",
				slog.String("identifier", identifier),
			)
		}
		return nil, fmt.Errorf("поиск записи кэша %s: %w", identifier, err)
	}
	return rec, nil
}

// validateRequest проверяет идентификатор и наличие объекта.
func validateRequest(req *model.RegistrationRequest) error {
	if req == nil || strings.TrimSpace(req.Identifier) == "" {
		return ErrInvalidIdentifier
	}
	if !strings.Contains(model.Suffix(req.Identifier), "/") {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, req.Identifier)
	}
	if req.Object == nil {
		return ErrObjectRequired
	}
	if st := req.Attributes.Status; st != nil && !st.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, *st)
	}
	return nil
}

// flattenMetadata раскладывает JSON-объект верхнего уровня в карту строк.
func flattenMetadata(raw string) (map[string]string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, err
	}

	result := make(map[string]string, len(fields))
	for key, value := range fields {
		var str string
		if err := json.Unmarshal(value, &str); err == nil {
			result[key] = str
			continue
		}
		result[key] = string(value)
	}
	return result, nil
}
