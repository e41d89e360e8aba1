// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// DOI Registrar мониторит:
//   - PostgreSQL — SQL checker через существующий pgxpool (connection pool mode, critical)
//   - CrossRef — HTTP checker к базовому URL агентства (не critical: без CrossRef
//     доступны reserve, modify с атрибутами и чтение кэша)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// crossrefHealthPath — путь проверки CrossRef (у deposit API нет отдельного health endpoint).
const crossrefHealthPath = "/"

// DephealthParams — параметры мониторинга зависимостей.
type DephealthParams struct {
	// ServiceID — имя вершины графа текущего приложения (doi-registrar)
	ServiceID string
	// Group — имя группы в метриках (DR_DEPHEALTH_GROUP)
	Group string
	// DB — *sql.DB, полученный из pgxpool через stdlib.OpenDBFromPool()
	DB *sql.DB
	// PgConnURL — URL PostgreSQL (только для лейблов, не для подключения)
	PgConnURL string
	// CrossRefURL — базовый URL CrossRef
	CrossRefURL string
	// CheckInterval — интервал проверки (DR_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
	// IsEntry — лейбл isentry=yes для всех зависимостей (DEPHEALTH_ISENTRY)
	IsEntry bool
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(params DephealthParams, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(params, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	params DephealthParams,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(params, logger, dephealth.WithRegisterer(registerer))
}

// newDephealthService — внутренний конструктор.
func newDephealthService(params DephealthParams, logger *slog.Logger, extraOpts ...dephealth.Option) (*DephealthService, error) {
	pgDepOpts := []dephealth.DependencyOption{
		dephealth.FromURL(params.PgConnURL),
		dephealth.CheckInterval(params.CheckInterval),
		dephealth.Critical(true),
	}
	crDepOpts := []dephealth.DependencyOption{
		dephealth.FromURL(params.CrossRefURL),
		dephealth.WithHTTPHealthPath(crossrefHealthPath),
		dephealth.CheckInterval(params.CheckInterval),
		dephealth.Critical(false),
	}
	if params.IsEntry {
		pgDepOpts = append(pgDepOpts, dephealth.WithLabel("isentry", "yes"))
		crDepOpts = append(crDepOpts, dephealth.WithLabel("isentry", "yes"))
	}

	if parsed, err := url.Parse(params.CrossRefURL); err == nil && parsed.Scheme == "https" {
		crDepOpts = append(crDepOpts, dephealth.WithHTTPTLSSkipVerify(false))
	}

	opts := make([]dephealth.Option, 0, 3+len(extraOpts))
	opts = append(opts,
		dephealth.WithLogger(logger),
		// PostgreSQL — connection pool mode через существующий pgxpool.
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(params.DB)), pgDepOpts...),
		dephealth.HTTP("crossref", crDepOpts...),
	)
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(params.ServiceID, params.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен (PostgreSQL + CrossRef)")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
