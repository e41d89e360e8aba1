// Пакет repository — слой доступа к данным PostgreSQL для DOI Registrar.
// Единственная таблица — registration_cache (кэш состояния регистрации DOI).
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — запись изменена параллельным запросом (устаревшая версия).
	ErrConflict = errors.New("конфликт — запись изменена параллельно")
	// ErrCacheInconsistency — для одного идентификатора найдено больше одной записи.
	ErrCacheInconsistency = errors.New("нарушена целостность кэша регистрации: больше одной записи на идентификатор")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
