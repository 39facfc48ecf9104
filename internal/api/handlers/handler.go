// handler.go — основной обработчик API CRM Sync.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/goartstore/crm-sync/internal/api/errors"
	"github.com/bigkaa/goartstore/crm-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/crm-sync/internal/remotecrm"
	"github.com/bigkaa/goartstore/crm-sync/internal/service"
)

// Сервисы, от которых зависит API. Реализуются пакетом service.
type (
	ConnectionService interface {
		StartOAuth(ctx context.Context, tenantKey string) (string, error)
		FinishOAuth(ctx context.Context, tenantKey, code, state string) (*model.ConnectionStatus, error)
		Disconnect(ctx context.Context, tenantKey string) error
		Status(ctx context.Context, tenantKey string) (*model.ConnectionStatus, error)
	}

	MappingService interface {
		List(ctx context.Context, tenantKey string) ([]model.FieldMapping, error)
		Replace(ctx context.Context, tenantKey string, mappings []model.FieldMapping) ([]model.FieldMapping, error)
	}

	PropertyService interface {
		List(ctx context.Context, tenantKey string) ([]remotecrm.Property, error)
		Invalidate(tenantKey string)
	}

	EventService interface {
		ListRecent(ctx context.Context, tenantKey string, limit int) ([]model.EventLogEntry, error)
	}

	WebhookService interface {
		Verify(r *http.Request, body []byte) error
		Ingest(ctx context.Context, body []byte) (*service.WebhookSummary, error)
	}

	LocalEventService interface {
		HandleContactEvent(ctx context.Context, tenantKey string, ev service.LocalContactEvent) (*model.SyncResult, error)
	}
)

// Services — зависимости APIHandler.
type Services struct {
	Connections ConnectionService
	Mappings    MappingService
	Properties  PropertyService
	Events      EventService
	Webhooks    WebhookService
	LocalEvents LocalEventService
}

// APIHandler — основной обработчик API CRM Sync.
type APIHandler struct {
	health *HealthHandler
	svc    Services
	logger *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(health *HealthHandler, svc Services, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		health: health,
		svc:    svc,
		logger: logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError отображает ошибку сервисного слоя в HTTP-ответ.
// Ошибки OAuth-потоков отдаются со своими кодом и статусом.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, op string, err error) {
	var fe *service.FlowError
	if errors.As(err, &fe) {
		if fe.Status >= http.StatusInternalServerError {
			h.logger.Error(op, slog.String("code", fe.Code), slog.String("error", err.Error()))
		}
		apierrors.WriteError(w, fe.Status, fe.Code, fe.Error())
		return
	}
	if errors.Is(err, service.ErrNotFound) {
		apierrors.WriteError(w, http.StatusNotFound, apierrors.CodeNotFound, err.Error())
		return
	}

	status, code := statusForCode(service.ErrorCode(err))
	if status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.String("code", code), slog.String("error", err.Error()))
	}
	message := err.Error()
	if code == apierrors.CodeInternalError {
		message = "Внутренняя ошибка сервера"
	}
	apierrors.WriteError(w, status, code, message)
}

// statusForCode возвращает HTTP-статус и код API для кода ошибки сервиса.
func statusForCode(code string) (int, string) {
	switch code {
	case service.CodeNotConnected:
		return http.StatusConflict, apierrors.CodeNotConnected
	case service.CodeValidationError:
		return http.StatusBadRequest, apierrors.CodeValidationError
	case service.CodeMalformedPayload:
		return http.StatusBadRequest, apierrors.CodeMalformedPayload
	case service.CodeInvalidWebhookSignature:
		return http.StatusUnauthorized, apierrors.CodeInvalidWebhookSignature
	case service.CodeAuthFailed:
		return http.StatusBadGateway, apierrors.CodeAuthFailed
	case service.CodeRemoteAPIError:
		return http.StatusBadGateway, apierrors.CodeRemoteAPIError
	case service.CodeLocalAPIError:
		return http.StatusBadGateway, apierrors.CodeLocalAPIError
	case service.CodeStoreWriteFailed:
		return http.StatusInternalServerError, apierrors.CodeStoreWriteFailed
	default:
		return http.StatusInternalServerError, apierrors.CodeInternalError
	}
}

// apiCode переводит код ошибки сервиса в код API (верхний регистр).
func apiCode(code string) string {
	return strings.ToUpper(code)
}
