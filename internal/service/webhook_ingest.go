// webhook_ingest.go — приём уведомлений удалённой CRM.
//
// Тело проверяется подписью и разбирается один раз. Каждое событие
// обрабатывается последовательно и независимо: ошибка одного события
// фиксируется в журнале и не прерывает остальные.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/crm-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/crm-sync/internal/repository"
	"github.com/bigkaa/goartstore/crm-sync/internal/webhook"
)

var webhookItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cs_webhook_items_total",
	Help: "Количество событий webhook по статусу обработки",
}, []string{"status"})

// Поддерживаемые типы подписок.
var supportedSubscriptions = map[string]bool{
	"contact.creation":       true,
	"contact.propertyChange": true,
	"contact.restore":        true,
}

// CodeUnsupportedSubscription — тип подписки не обрабатывается.
const CodeUnsupportedSubscription = "unsupported_subscription"

// InboundSyncer — синхронизация удалённого контакта в локальную CRM.
type InboundSyncer interface {
	SyncInbound(ctx context.Context, tenantKey, remoteID, correlationID string) (*model.SyncResult, error)
}

// WebhookItemResult — итог обработки одного события.
type WebhookItemResult struct {
	EventID          string            `json:"eventId,omitempty"`
	SubscriptionType string            `json:"subscriptionType"`
	ObjectID         string            `json:"objectId,omitempty"`
	OccurredAtMs     int64             `json:"occurredAtMs,omitempty"`
	CorrelationID    string            `json:"correlationId"`
	Status           string            `json:"status"`
	Outcome          model.SyncOutcome `json:"outcome,omitempty"`
	ErrorCode        string            `json:"errorCode,omitempty"`
}

// WebhookSummary — итог обработки тела webhook.
type WebhookSummary struct {
	Kind      webhook.PayloadKind `json:"kind"`
	Received  int                 `json:"received"`
	Processed int                 `json:"processed"`
	Ignored   int                 `json:"ignored"`
	Skipped   int                 `json:"skipped"`
	Failed    int                 `json:"failed"`
	Items     []WebhookItemResult `json:"items"`
}

// WebhookIngestService проверяет и обрабатывает webhook удалённой CRM.
type WebhookIngestService struct {
	conns  repository.ConnectionRepository
	syncer InboundSyncer
	events *EventService
	secret string
	now    func() time.Time
	logger *slog.Logger
}

// NewWebhookIngestService создаёт сервис приёма webhook.
// secret — client secret приложения в удалённой CRM (ключ подписи).
func NewWebhookIngestService(
	conns repository.ConnectionRepository,
	syncer InboundSyncer,
	events *EventService,
	secret string,
	logger *slog.Logger,
) *WebhookIngestService {
	return &WebhookIngestService{
		conns:  conns,
		syncer: syncer,
		events: events,
		secret: secret,
		now:    time.Now,
		logger: logger.With(slog.String("component", "webhook_ingest")),
	}
}

// Verify проверяет подпись запроса. Проверка обязательна.
func (s *WebhookIngestService) Verify(r *http.Request, body []byte) error {
	res := webhook.Verify(r, body, s.secret, s.now())
	if res.OK {
		return nil
	}
	s.logger.Warn("Подпись webhook отклонена",
		slog.String("scheme", string(res.Scheme)),
		slog.String("reason", res.Reason),
	)
	return fmt.Errorf("%w: %s", ErrInvalidWebhookSignature, res.Reason)
}

// Ingest разбирает тело и обрабатывает события.
// Возвращает ErrMalformedPayload, если тело не является массивом
// событий или конвертом {"events":[...]}. Неразобранный элемент
// учитывается как failed и не прерывает пакет.
func (s *WebhookIngestService) Ingest(ctx context.Context, body []byte) (*WebhookSummary, error) {
	payload, err := webhook.DecodePayload(body)
	if err != nil {
		return nil, err
	}

	summary := &WebhookSummary{
		Kind:     payload.Kind,
		Received: len(payload.Items),
		Items:    make([]WebhookItemResult, 0, len(payload.Items)),
	}
	for i := range payload.Items {
		var item WebhookItemResult
		if payload.Items[i].Err != nil {
			item = s.rejectItem(ctx, &payload.Items[i])
		} else {
			item = s.processItem(ctx, &payload.Items[i])
		}
		switch item.Status {
		case model.EventStatusProcessed:
			summary.Processed++
		case model.EventStatusIgnored:
			summary.Ignored++
		case model.EventStatusSkipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
		webhookItemsTotal.WithLabelValues(item.Status).Inc()
		summary.Items = append(summary.Items, item)
	}

	s.logger.Info("Webhook обработан",
		slog.String("kind", string(summary.Kind)),
		slog.Int("received", summary.Received),
		slog.Int("processed", summary.Processed),
		slog.Int("ignored", summary.Ignored),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
	)
	return summary, nil
}

// rejectItem фиксирует элемент пакета, который не разобрался как событие.
func (s *WebhookIngestService) rejectItem(ctx context.Context, raw *webhook.Item) WebhookItemResult {
	item := WebhookItemResult{
		CorrelationID: correlationID(""),
		Status:        model.EventStatusFailed,
		ErrorCode:     CodeMalformedPayload,
	}
	s.logger.Warn("Событие webhook не разобрано",
		slog.String("correlation_id", item.CorrelationID),
		slog.String("error", raw.Err.Error()),
	)
	entry := &model.EventLogEntry{
		Source:        model.EventSourceRemoteWebhook,
		EventType:     "unknown",
		CorrelationID: &item.CorrelationID,
		Status:        item.Status,
		ErrorCode:     optional(item.ErrorCode),
		Message:       optional(raw.Err.Error()),
	}
	if json.Valid(raw.Raw) {
		entry.Payload = raw.Raw
	}
	s.events.Record(ctx, entry)
	return item
}

// processItem обрабатывает одно событие и пишет его в журнал.
func (s *WebhookIngestService) processItem(ctx context.Context, raw *webhook.Item) (item WebhookItemResult) {
	ev := &raw.Event
	item = WebhookItemResult{
		EventID:          ev.EventID.String(),
		SubscriptionType: ev.SubscriptionType,
		ObjectID:         ev.ObjectID.String(),
		OccurredAtMs:     ev.OccurredAtMs(),
		CorrelationID:    correlationID(ev.EventID.String()),
	}
	entry := &model.EventLogEntry{
		Source:            model.EventSourceRemoteWebhook,
		EventType:         ev.SubscriptionType,
		ExternalAccountID: optional(ev.PortalID.String()),
		ObjectID:          optional(item.ObjectID),
		CorrelationID:     &item.CorrelationID,
	}
	if json.Valid(raw.Raw) {
		entry.Payload = raw.Raw
	} else if b, err := json.Marshal(ev); err == nil {
		entry.Payload = b
	}

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("Паника при обработке события webhook",
				slog.String("correlation_id", item.CorrelationID),
				slog.Any("panic", p),
			)
			item.Status = model.EventStatusFailed
			item.ErrorCode = CodeInternalError
		}
		entry.Status = item.Status
		entry.ErrorCode = optional(item.ErrorCode)
		if item.Outcome != "" {
			entry.Message = optional(string(item.Outcome))
		}
		s.events.Record(ctx, entry)
	}()

	tenantKey, err := s.resolveTenant(ctx, ev.PortalID.String())
	if err != nil {
		item.Status = model.EventStatusFailed
		item.ErrorCode = ErrorCode(err)
		if errors.Is(err, ErrUnknownAccount) {
			item.Status = model.EventStatusIgnored
		}
		return item
	}
	entry.TenantKey = &tenantKey

	if !supportedSubscriptions[ev.SubscriptionType] {
		item.Status = model.EventStatusIgnored
		item.ErrorCode = CodeUnsupportedSubscription
		return item
	}
	if item.ObjectID == "" {
		item.Status = model.EventStatusIgnored
		item.ErrorCode = CodeMalformedPayload
		return item
	}

	result, err := s.syncer.SyncInbound(ctx, tenantKey, item.ObjectID, item.CorrelationID)
	if err != nil {
		s.logger.Error("Ошибка синхронизации события webhook",
			slog.String("tenant_key", tenantKey),
			slog.String("object_id", item.ObjectID),
			slog.String("correlation_id", item.CorrelationID),
			slog.String("error", err.Error()),
		)
		item.Status = model.EventStatusFailed
		item.ErrorCode = ErrorCode(err)
		return item
	}

	item.Outcome = result.Outcome
	item.Status = statusForOutcome(result.Outcome)
	if result.Outcome == model.OutcomeSkipped {
		item.ErrorCode = result.Reason
	}
	return item
}

// resolveTenant находит установку по идентификатору аккаунта удалённой CRM.
func (s *WebhookIngestService) resolveTenant(ctx context.Context, portalID string) (string, error) {
	if portalID == "" {
		return "", ErrUnknownAccount
	}
	conn, err := s.conns.GetByRemoteAccountID(ctx, portalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrUnknownAccount
		}
		return "", fmt.Errorf("поиск установки по аккаунту: %w", err)
	}
	return conn.TenantKey, nil
}

// statusForOutcome отображает итог синхронизации в статус журнала.
func statusForOutcome(outcome model.SyncOutcome) string {
	switch outcome {
	case model.OutcomeCreated, model.OutcomeUpdated, model.OutcomeUnchanged:
		return model.EventStatusProcessed
	default:
		return model.EventStatusSkipped
	}
}

// correlationID строит идентификатор корреляции remote:<eventId>.
func correlationID(eventID string) string {
	if eventID == "" {
		return "remote:" + uuid.NewString()
	}
	return "remote:" + eventID
}
