// Пакет server — HTTP-сервер Contract Module с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/api/handlers"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/api/middleware"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/config"
)

// Server — HTTP-сервер Contract Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// jwtAuth может быть nil — тогда API работает без аутентификации
// (деградированный режим, логируется при старте в main).
func New(
	cfg *config.Config,
	logger *slog.Logger,
	contractsHandler *handlers.ContractsHandler,
	auditHandler *handlers.AuditHandler,
	healthHandler *handlers.HealthHandler,
	jwtAuth *middleware.JWTAuth,
) *Server {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Публичные endpoints: health и metrics проверяются Kubernetes
	// напрямую, без API Gateway.
	router.Get("/health/live", healthHandler.HealthLive)
	router.Get("/health/ready", healthHandler.HealthReady)
	router.Get("/metrics", healthHandler.GetMetrics)

	// requireScope проверяет scope только при включённой аутентификации.
	requireScope := func(scope string) func(http.Handler) http.Handler {
		if jwtAuth == nil {
			return passthrough
		}
		return middleware.RequireScope(scope)
	}

	router.Route("/api/v1", func(r chi.Router) {
		// Скачивание авторизуется токеном подписанной ссылки,
		// остальные маршруты — JWT.
		if jwtAuth != nil {
			r.Use(jwtAuthWithExclusions(jwtAuth, "/download"))
		}

		r.With(requireScope(middleware.ScopeContractsWrite)).
			Post("/bookings/{bookingID}/contract", contractsHandler.GenerateContract)

		r.Route("/contracts/{id}", func(r chi.Router) {
			r.With(requireScope(middleware.ScopeContractsRead)).
				Get("/", contractsHandler.GetContract)
			r.With(requireScope(middleware.ScopeContractsRead)).
				Get("/verify", contractsHandler.VerifyContract)
			r.Get("/download", contractsHandler.DownloadContract)
		})

		r.With(requireScope(middleware.ScopeAuditRead)).
			Get("/audit/{entityType}/{entityID}", auditHandler.GetAuditTrail)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// passthrough — middleware без эффекта (аутентификация выключена).
func passthrough(next http.Handler) http.Handler {
	return next
}

// jwtAuthWithExclusions оборачивает JWTAuth.Middleware(), пропуская пути
// с указанными суффиксами. Запросы, чей путь оканчивается любым из
// excludeSuffixes, проходят без JWT.
func jwtAuthWithExclusions(jwtAuth *middleware.JWTAuth, excludeSuffixes ...string) func(http.Handler) http.Handler {
	jwtMiddleware := jwtAuth.Middleware()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Проверяем, оканчивается ли путь исключённым суффиксом
			for _, suffix := range excludeSuffixes {
				if strings.HasSuffix(r.URL.Path, suffix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			// Применяем JWT middleware
			jwtMiddleware(next).ServeHTTP(w, r)
		})
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
