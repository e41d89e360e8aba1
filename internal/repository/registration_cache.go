package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/doi-registrar/internal/domain/model"
)

// cacheColumns — список столбцов registration_cache для SELECT-запросов.
const cacheColumns = `id, identifier, status, target_url, document, version, created_at, updated_at`

// RegistrationCacheRepository — доступ к кэшу регистрации DOI.
type RegistrationCacheRepository interface {
	// FindByIdentifier возвращает запись по идентификатору.
	// ErrNotFound — записи нет, ErrCacheInconsistency — записей больше одной.
	FindByIdentifier(ctx context.Context, identifier string) (*model.RegistrationCacheRecord, error)
	// Upsert создаёт запись (Version == 0) или обновляет существующую с проверкой версии.
	// При успехе обновляет ID, Version, CreatedAt, UpdatedAt в rec.
	Upsert(ctx context.Context, rec *model.RegistrationCacheRecord) error
}

// registrationCacheRepo — реализация RegistrationCacheRepository через pgx.
type registrationCacheRepo struct {
	db DBTX
}

// NewRegistrationCacheRepository создаёт репозиторий кэша регистрации.
func NewRegistrationCacheRepository(db DBTX) RegistrationCacheRepository {
	return &registrationCacheRepo{db: db}
}

// FindByIdentifier выбирает до двух строк: вторая строка означает нарушение
// уникальности, и произвольная запись не выбирается.
func (r *registrationCacheRepo) FindByIdentifier(ctx context.Context, identifier string) (*model.RegistrationCacheRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM registration_cache WHERE identifier = $1 ORDER BY id LIMIT 2`, cacheColumns)

	rows, err := r.db.Query(ctx, query, identifier)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска записи кэша: %w", err)
	}
	defer rows.Close()

	var found []*model.RegistrationCacheRecord
	for rows.Next() {
		rec := &model.RegistrationCacheRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.Identifier, &rec.Status, &rec.TargetURL, &rec.Document,
			&rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи кэша: %w", err)
		}
		found = append(found, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации записей кэша: %w", err)
	}

	switch len(found) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrCacheInconsistency, identifier)
	}
}

// Upsert вставляет или обновляет запись.
// Обновление выполняется только если версия в БД совпадает с rec.Version —
// иначе запись изменена параллельно и возвращается ErrConflict.
func (r *registrationCacheRepo) Upsert(ctx context.Context, rec *model.RegistrationCacheRecord) error {
	query := `
		INSERT INTO registration_cache (identifier, status, target_url, document, version)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (identifier) DO UPDATE
		SET status     = EXCLUDED.status,
			target_url = EXCLUDED.target_url,
			document   = EXCLUDED.document,
			version    = registration_cache.version + 1,
			updated_at = NOW()
		WHERE registration_cache.version = $5
		RETURNING id, version, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		rec.Identifier, rec.Status, rec.TargetURL, rec.Document, rec.Version,
	).Scan(&rec.ID, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s (версия %d)", ErrConflict, rec.Identifier, rec.Version)
		}
		return fmt.Errorf("ошибка сохранения записи кэша: %w", err)
	}
	return nil
}
