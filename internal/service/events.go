// events.go — диагностический журнал входящих событий (best-effort).
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/crm-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/crm-sync/internal/repository"
)

// Ограничения выборки журнала событий.
const (
	DefaultEventsLimit = 50
	MaxEventsLimit     = 200
)

// EventService пишет и читает журнал событий.
type EventService struct {
	repo   repository.EventLogRepository
	now    func() time.Time
	logger *slog.Logger
}

// NewEventService создаёт сервис журнала событий.
func NewEventService(repo repository.EventLogRepository, logger *slog.Logger) *EventService {
	return &EventService{
		repo:   repo,
		now:    time.Now,
		logger: logger.With(slog.String("component", "event_log")),
	}
}

// Record сохраняет запись. Ошибка записи логируется и не возвращается.
func (s *EventService) Record(ctx context.Context, entry *model.EventLogEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = s.now().UTC()
	}
	if err := s.repo.Insert(ctx, entry); err != nil {
		s.logger.Warn("Не удалось записать событие в журнал",
			slog.String("source", entry.Source),
			slog.String("event_type", entry.EventType),
			slog.String("status", entry.Status),
			slog.String("error", err.Error()),
		)
	}
}

// ListRecent возвращает последние записи установки.
// limit вне диапазона 1..MaxEventsLimit приводится к границе.
func (s *EventService) ListRecent(ctx context.Context, tenantKey string, limit int) ([]model.EventLogEntry, error) {
	switch {
	case limit <= 0:
		limit = DefaultEventsLimit
	case limit > MaxEventsLimit:
		limit = MaxEventsLimit
	}
	return s.repo.ListRecent(ctx, tenantKey, limit)
}
