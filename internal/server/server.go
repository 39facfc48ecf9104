// Пакет server — HTTP-сервер CRM Sync с graceful shutdown.
// Без TLS: TLS termination выполняется на ingress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/crm-sync/internal/api/handlers"
	"github.com/bigkaa/goartstore/crm-sync/internal/api/middleware"
)

// Server — HTTP-сервер CRM Sync.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// NewRouter регистрирует маршруты.
// Health, metrics и webhook удалённой CRM публичны; /api/v1 требует JWT установки.
// jwtAuth может быть nil (тесты без аутентификации).
func NewRouter(logger *slog.Logger, h *handlers.APIHandler, jwtAuth *middleware.JWTAuth) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	router.Post("/webhooks/remote", h.ReceiveRemoteWebhook)

	router.Route("/api/v1", func(r chi.Router) {
		if jwtAuth != nil {
			r.Use(jwtAuth.Middleware())
		}
		r.Post("/oauth/start", h.StartOAuth)
		r.Post("/oauth/finish", h.FinishOAuth)
		r.Post("/connection/disconnect", h.Disconnect)
		r.Get("/connection/status", h.ConnectionStatus)
		r.Get("/mappings", h.ListMappings)
		r.Put("/mappings", h.ReplaceMappings)
		r.Get("/remote/properties", h.ListRemoteProperties)
		r.Get("/events", h.ListEvents)
		r.Post("/local/contact-events", h.HandleLocalContactEvent)
	})

	return router
}

// New создаёт HTTP-сервер.
func New(port int, shutdownTimeout time.Duration, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
		logger:          logger,
	}
}

// Run запускает сервер и блокируется до отмены ctx (сигнал завершения),
// после чего выполняет graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Получен сигнал завершения")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}
	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
