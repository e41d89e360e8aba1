// Пакет server — HTTP-сервер DOI Registrar с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/doi-registrar/internal/api/handlers"
	"github.com/bigkaa/goartstore/doi-registrar/internal/api/middleware"
	"github.com/bigkaa/goartstore/doi-registrar/internal/config"
)

// Server — HTTP-сервер DOI Registrar.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// auth — JWT middleware; nil — аутентификация выключена, RBAC не применяется.
// middlewares — общие middleware (metrics, logging), добавляются в порядке переданного среза.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	handler *handlers.APIHandler,
	auth func(http.Handler) http.Handler,
	middlewares ...func(http.Handler) http.Handler,
) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(handler, auth, middlewares...),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты API.
// Health и метрики доступны без аутентификации, /api/v1 — под JWT.
func NewRouter(
	handler *handlers.APIHandler,
	auth func(http.Handler) http.Handler,
	middlewares ...func(http.Handler) http.Handler,
) http.Handler {
	router := chi.NewRouter()
	for _, mw := range middlewares {
		router.Use(mw)
	}

	router.Get("/health/live", handler.HealthLive)
	router.Get("/health/ready", handler.HealthReady)
	router.Get("/metrics", handler.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		if auth != nil {
			r.Use(auth)
		}

		// Чтение: admin, readonly / pids:read, pids:write
		r.Group(func(r chi.Router) {
			if auth != nil {
				r.Use(middleware.RequireRead())
			}
			r.Get("/pids/exists", handler.PIDExists)
			r.Get("/pids/metadata", handler.PIDMetadata)
			r.Get("/pids/cache", handler.PIDCacheRecord)
			r.Post("/objects/metadata", handler.ObjectMetadata)
			r.Get("/objects/lookup", handler.ObjectLookup)
		})

		// Изменение жизненного цикла: admin / pids:write
		r.Group(func(r chi.Router) {
			if auth != nil {
				r.Use(middleware.RequireWrite())
			}
			r.Post("/pids/reserve", handler.PIDReserve)
			r.Post("/pids/register", handler.PIDRegister)
			r.Post("/pids/modify", handler.PIDModify)
			r.Post("/objects/identifier", handler.ObjectCreateIdentifier)
			r.Post("/objects/publicize", handler.ObjectPublicize)
			r.Post("/objects/target", handler.ObjectModifyTarget)
		})
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
