// Точка входа DOI Registrar — сервис жизненного цикла DOI в CrossRef.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// собирает Metadata Renderer, клиент CrossRef и сервисный слой,
// запускает topologymetrics и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/doi-registrar/internal/api/handlers"
	"github.com/bigkaa/goartstore/doi-registrar/internal/api/middleware"
	"github.com/bigkaa/goartstore/doi-registrar/internal/config"
	"github.com/bigkaa/goartstore/doi-registrar/internal/crossref"
	"github.com/bigkaa/goartstore/doi-registrar/internal/database"
	"github.com/bigkaa/goartstore/doi-registrar/internal/metadata"
	"github.com/bigkaa/goartstore/doi-registrar/internal/repository"
	"github.com/bigkaa/goartstore/doi-registrar/internal/server"
	"github.com/bigkaa/goartstore/doi-registrar/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("DOI Registrar запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("crossref_url", cfg.CrossRefURL),
	)

	if os.Getenv("DR_DEPHEALTH_GROUP") == "" {
		logger.Warn("DR_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Сервер завершился с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("DOI Registrar остановлен")
}

// run собирает зависимости и блокируется до завершения HTTP-сервера.
// Отложенные Close выполняются до выхода из процесса.
//
//nolint:funlen // линейная сборка зависимостей
func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Миграции и пул PostgreSQL
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		return err
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 4. Metadata Renderer
	tmpl, err := metadata.LoadTemplate(cfg.MetadataTemplatePath)
	if err != nil {
		return err
	}
	renderer := metadata.NewRenderer(tmpl)

	// 5. Клиент CrossRef
	crossrefClient, err := crossref.New(
		cfg.CrossRefURL,
		cfg.CrossRefUsername,
		cfg.CrossRefPassword,
		cfg.CrossRefCACertPath,
		cfg.CrossRefTimeout,
		logger,
	)
	if err != nil {
		return err
	}
	defer func() { _ = crossrefClient.Close() }()

	// 6. Сервисный слой
	cacheRepo := repository.NewRegistrationCacheRepository(pool)
	lookups := service.NewLookupCache(cfg.LookupCacheSize, cfg.LookupCacheTTL)
	registrations := service.NewRegistrationService(
		cacheRepo,
		crossrefClient,
		renderer,
		service.DepositSettings{
			Depositor:      cfg.Depositor,
			DepositorEmail: cfg.DepositorEmail,
			Institution:    cfg.Institution,
			SiteURL:        cfg.SiteURL,
		},
		lookups,
		logger,
	)
	provider := service.NewProvider(registrations, service.ProviderSettings{
		Authority: cfg.DOIAuthority,
		Shoulder:  cfg.DOIShoulder,
		SiteURL:   cfg.SiteURL,
	}, logger)

	// 7. topologymetrics — мониторинг зависимостей (PostgreSQL + CrossRef)
	dephealthSvc, err := service.NewDephealthService(service.DephealthParams{
		ServiceID:     "doi-registrar",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PgConnURL:     cfg.DatabaseURL("postgres"),
		CrossRefURL:   cfg.CrossRefURL,
		CheckInterval: cfg.DephealthCheckInterval,
		IsEntry:       cfg.DephealthIsEntry,
	}, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
	} else {
		defer dephealthSvc.Stop()
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 8. JWT middleware и readiness checkers
	var (
		authMiddleware func(http.Handler) http.Handler
		jwksChecker    handlers.ReadinessChecker
	)
	if cfg.AuthEnabled() {
		jwtAuth, authErr := middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.JWKSCACertPath,
			cfg.JWTIssuer,
			cfg.RoleAdminGroups,
			cfg.RoleReadonlyGroups,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if authErr != nil {
			return authErr
		}
		defer jwtAuth.Close()
		authMiddleware = jwtAuth.Middleware()

		checker, checkerErr := middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWKSCACertPath, cfg.JWKSClientTimeout)
		if checkerErr != nil {
			return checkerErr
		}
		jwksChecker = checker

		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("DR_JWT_JWKS_URL не задан, аутентификация API отключена")
	}

	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), jwksChecker)
	apiHandler := handlers.NewAPIHandler(healthHandler, registrations, provider, logger)

	// 9. HTTP-сервер (блокирующий вызов с graceful shutdown)
	srv := server.New(cfg, logger, apiHandler, authMiddleware,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)
	return srv.Run()
}
