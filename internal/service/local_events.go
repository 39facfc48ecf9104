// local_events.go — события изменения контактов локальной CRM.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/crm-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/crm-sync/internal/localcrm"
)

// Типы событий локальной CRM.
const (
	LocalEventContactCreated = "contact.created"
	LocalEventContactUpdated = "contact.updated"
)

// LocalContactEvent — уведомление локальной CRM об изменении контакта.
// Contact может отсутствовать — тогда контакт читается по ContactID.
type LocalContactEvent struct {
	EventID   string            `json:"eventId"`
	EventType string            `json:"eventType"`
	ContactID string            `json:"contactId"`
	Contact   *localcrm.Contact `json:"contact,omitempty"`
}

// OutboundSyncer — синхронизация локального контакта в удалённую CRM.
type OutboundSyncer interface {
	SyncOutbound(ctx context.Context, tenantKey string, contact *localcrm.Contact, correlationID string) (*model.SyncResult, error)
}

// LocalEventService обрабатывает события локальной CRM.
type LocalEventService struct {
	syncer OutboundSyncer
	local  LocalContacts
	events *EventService
	logger *slog.Logger
}

// NewLocalEventService создаёт сервис событий локальной CRM.
func NewLocalEventService(syncer OutboundSyncer, local LocalContacts, events *EventService, logger *slog.Logger) *LocalEventService {
	return &LocalEventService{
		syncer: syncer,
		local:  local,
		events: events,
		logger: logger.With(slog.String("component", "local_events")),
	}
}

// HandleContactEvent синхронизирует изменённый контакт в удалённую CRM.
// Ошибка возвращается вызывающему, чтобы локальная CRM повторила доставку.
func (s *LocalEventService) HandleContactEvent(ctx context.Context, tenantKey string, ev LocalContactEvent) (*model.SyncResult, error) {
	if ev.Contact != nil && ev.ContactID == "" {
		ev.ContactID = ev.Contact.ID
	}
	if strings.TrimSpace(ev.ContactID) == "" {
		return nil, fmt.Errorf("%w: contactId обязателен", ErrValidation)
	}
	if ev.EventType == "" {
		ev.EventType = LocalEventContactUpdated
	}

	corrID := "local:" + ev.EventID
	if ev.EventID == "" {
		corrID = "local:" + uuid.NewString()
	}

	entry := &model.EventLogEntry{
		TenantKey:     &tenantKey,
		Source:        model.EventSourceLocalEvent,
		EventType:     ev.EventType,
		ObjectID:      &ev.ContactID,
		CorrelationID: &corrID,
	}
	if raw, err := json.Marshal(ev); err == nil {
		entry.Payload = raw
	}

	result, err := s.sync(ctx, tenantKey, ev, corrID)
	if err != nil {
		s.logger.Error("Ошибка синхронизации локального контакта",
			slog.String("tenant_key", tenantKey),
			slog.String("local_id", ev.ContactID),
			slog.String("correlation_id", corrID),
			slog.String("error", err.Error()),
		)
		entry.Status = model.EventStatusFailed
		entry.ErrorCode = optional(ErrorCode(err))
		entry.Message = optional(err.Error())
		s.events.Record(ctx, entry)
		return nil, err
	}

	entry.Status = statusForOutcome(result.Outcome)
	entry.Message = optional(string(result.Outcome))
	if result.Outcome == model.OutcomeSkipped {
		entry.ErrorCode = optional(result.Reason)
	}
	s.events.Record(ctx, entry)
	return result, nil
}

func (s *LocalEventService) sync(ctx context.Context, tenantKey string, ev LocalContactEvent, corrID string) (*model.SyncResult, error) {
	contact := ev.Contact
	if contact == nil {
		var err error
		contact, err = s.local.GetContact(ctx, tenantKey, ev.ContactID)
		if err != nil {
			return nil, wrapLocal("чтение локального контакта", err)
		}
	}
	return s.syncer.SyncOutbound(ctx, tenantKey, contact, corrID)
}
