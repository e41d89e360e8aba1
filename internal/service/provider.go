// provider.go — фасад DOI-провайдера для основного приложения:
// выдача идентификатора объекту, публикация, обновление target, чтение метаданных.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/doi-registrar/internal/domain/model"
	"github.com/bigkaa/goartstore/doi-registrar/internal/repository"
)

const (
	// protocolDOI — схема идентификаторов, которые выдаёт провайдер.
	protocolDOI = "doi"
	// suffixRandomLength — количество случайных символов после shoulder.
	suffixRandomLength = 6
	// maxGenerateAttempts — попыток подобрать свободный идентификатор.
	maxGenerateAttempts = 10
)

// ProviderSettings — параметры генерации идентификаторов.
type ProviderSettings struct {
	// Authority — префикс DOI (10.5072)
	Authority string
	// Shoulder — начало суффикса (FK2/)
	Shoulder string
	// SiteURL — базовый URL сайта для target
	SiteURL string
}

// Provider — фасад над RegistrationService.
type Provider struct {
	registrations *RegistrationService
	settings      ProviderSettings
	randomSuffix  func() string
	now           func() time.Time
	logger        *slog.Logger
}

// NewProvider создаёт фасад DOI-провайдера.
func NewProvider(registrations *RegistrationService, settings ProviderSettings, logger *slog.Logger) *Provider {
	return &Provider{
		registrations: registrations,
		settings:      settings,
		randomSuffix:  randomSuffix,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "doi_provider")),
	}
}

// AlreadyExists проверяет идентификатор в CrossRef. Пустой идентификатор — false.
func (p *Provider) AlreadyExists(ctx context.Context, identifier string) bool {
	if strings.TrimSpace(identifier) == "" {
		return false
	}
	return p.registrations.Exists(ctx, identifier)
}

// CreateIdentifier назначает объекту идентификатор (если его нет) и
// выполняет reserve. Возвращает полный идентификатор (doi:10.5072/FK2/ABCDEF).
func (p *Provider) CreateIdentifier(ctx context.Context, obj *model.ContentObject) (string, error) {
	if obj == nil {
		return "", ErrObjectRequired
	}

	if !obj.HasGlobalID() {
		if err := p.assignIdentifier(ctx, obj); err != nil {
			return "", err
		}
	}

	identifier := obj.GlobalID()
	status := model.StatusReserved
	outcome, err := p.registrations.Reserve(ctx, &model.RegistrationRequest{
		Identifier: identifier,
		Object:     obj,
		Attributes: model.RequestAttributes{Status: &status},
	})
	if err != nil {
		return "", fmt.Errorf("создание идентификатора %s: %w", identifier, err)
	}

	p.logger.Info("Идентификатор создан",
		slog.String("identifier", identifier),
		slog.String("outcome", string(outcome)),
	)
	return identifier, nil
}

// PublicizeIdentifier выполняет register для объекта со статусом public,
// годом публикации и target URL. Объекту без идентификатора он сначала
// назначается. Ошибки логируются, результат — false.
func (p *Provider) PublicizeIdentifier(ctx context.Context, obj *model.ContentObject) bool {
	if obj == nil {
		p.logger.Warn("Публикация без объекта невозможна")
		return false
	}
	if !obj.HasGlobalID() {
		if err := p.assignIdentifier(ctx, obj); err != nil {
			p.logger.Warn("Не удалось назначить идентификатор для публикации",
				slog.String("error", err.Error()),
			)
			return false
		}
	}

	identifier := obj.GlobalID()
	status := model.StatusPublic
	year := p.publicationYear(obj)
	target := p.TargetURL(obj)

	_, err := p.registrations.Register(ctx, &model.RegistrationRequest{
		Identifier: identifier,
		Object:     obj,
		Attributes: model.RequestAttributes{
			Target:          &target,
			Status:          &status,
			PublicationYear: &year,
		},
	})
	if err != nil {
		p.logger.Warn("Не удалось опубликовать идентификатор",
			slog.String("identifier", identifier),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// ModifyIdentifierTargetURL передаёт в modify текущие метаданные CrossRef.
// Если CrossRef метаданных не вернул, набор атрибутов пуст и modify
// выполняет публикацию.
func (p *Provider) ModifyIdentifierTargetURL(ctx context.Context, obj *model.ContentObject) (string, *ModifyResult, error) {
	if obj == nil || !obj.HasGlobalID() {
		return "", nil, ErrInvalidIdentifier
	}

	identifier := obj.GlobalID()
	metadata := p.registrations.GetMetadata(ctx, identifier)

	result, err := p.registrations.Modify(ctx, &model.RegistrationRequest{
		Identifier: identifier,
		Object:     obj,
		Attributes: model.RequestAttributes{Metadata: metadata},
	})
	if err != nil {
		return "", nil, err
	}
	return identifier, result, nil
}

// GetIdentifierMetadata возвращает метаданные CrossRef для объекта.
func (p *Provider) GetIdentifierMetadata(ctx context.Context, obj *model.ContentObject) map[string]string {
	if obj == nil || !obj.HasGlobalID() {
		return map[string]string{}
	}
	return p.registrations.GetMetadata(ctx, obj.GlobalID())
}

// LookupMetadataFromIdentifier возвращает метаданные CrossRef по частям идентификатора.
func (p *Provider) LookupMetadataFromIdentifier(ctx context.Context, protocol, authority, identifier string) map[string]string {
	return p.registrations.GetMetadata(ctx, model.FormatIdentifier(protocol, authority, identifier))
}

// TargetURL — адрес landing page объекта на сайте.
func (p *Provider) TargetURL(obj *model.ContentObject) string {
	page := "/dataset.xhtml?persistentId="
	if obj.IsFile() {
		page = "/file.xhtml?persistentId="
	}
	return p.settings.SiteURL + page + obj.GlobalID()
}

// assignIdentifier подбирает идентификатор, не занятый ни в кэше, ни в CrossRef.
func (p *Provider) assignIdentifier(ctx context.Context, obj *model.ContentObject) error {
	for range maxGenerateAttempts {
		suffix := p.settings.Shoulder + p.randomSuffix()
		candidate := model.FormatIdentifier(protocolDOI, p.settings.Authority, suffix)

		free, err := p.isFree(ctx, candidate)
		if err != nil {
			return err
		}
		if free {
			obj.Protocol = protocolDOI
			obj.Authority = p.settings.Authority
			obj.Identifier = suffix
			return nil
		}
		p.logger.Debug("Идентификатор занят, генерируем новый",
			slog.String("identifier", candidate),
		)
	}
	return ErrIdentifierExhausted
}

// isFree — идентификатора нет ни в кэше, ни в CrossRef.
func (p *Provider) isFree(ctx context.Context, identifier string) (bool, error) {
	_, err := p.registrations.cacheRepo.FindByIdentifier(ctx, identifier)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("проверка идентификатора %s: %w", identifier, err)
	default:
		return false, nil
	}
	return !p.registrations.Exists(ctx, identifier), nil
}

// publicationYear — год даты публикации объекта (для файла — датасета), иначе текущий.
func (p *Provider) publicationYear(obj *model.ContentObject) string {
	if date := obj.Dataset().PublicationDate; date != nil {
		return strconv.Itoa(date.Year())
	}
	if obj.PublicationDate != nil {
		return strconv.Itoa(obj.PublicationDate.Year())
	}
	return strconv.Itoa(p.now().Year())
}

// randomSuffix — suffixRandomLength символов в верхнем регистре.
func randomSuffix() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:suffixRandomLength])
}
