package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/goartstore/crm-sync/internal/domain/model"
)

// EventLogRepository — таблица event_log.
type EventLogRepository interface {
	// Insert сохраняет запись журнала событий.
	Insert(ctx context.Context, entry *model.EventLogEntry) error
	// ListRecent возвращает последние записи установки, новые первыми.
	ListRecent(ctx context.Context, tenantKey string, limit int) ([]model.EventLogEntry, error)
}

type eventLogRepo struct {
	db DBTX
}

// NewEventLogRepository создаёт репозиторий журнала событий.
func NewEventLogRepository(db DBTX) EventLogRepository {
	return &eventLogRepo{db: db}
}

func (r *eventLogRepo) Insert(ctx context.Context, e *model.EventLogEntry) error {
	query := `
		INSERT INTO event_log (id, tenant_key, source, event_type, external_account_id, object_id,
			correlation_id, status, error_code, message, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	var payload any
	if len(e.Payload) > 0 {
		payload = string(e.Payload)
	}
	_, err := r.db.Exec(ctx, query,
		e.ID, e.TenantKey, e.Source, e.EventType, e.ExternalAccountID, e.ObjectID,
		e.CorrelationID, e.Status, e.ErrorCode, e.Message, payload, e.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка записи в event_log: %w", err)
	}
	return nil
}

func (r *eventLogRepo) ListRecent(ctx context.Context, tenantKey string, limit int) ([]model.EventLogEntry, error) {
	if err := requireTenant(tenantKey); err != nil {
		return nil, err
	}
	query := `
		SELECT id, tenant_key, source, event_type, external_account_id, object_id,
			correlation_id, status, error_code, message, payload, received_at
		FROM event_log
		WHERE tenant_key = $1
		ORDER BY received_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, tenantKey, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения event_log: %w", err)
	}
	defer rows.Close()

	result := []model.EventLogEntry{}
	for rows.Next() {
		var e model.EventLogEntry
		var payload []byte
		if err := rows.Scan(
			&e.ID, &e.TenantKey, &e.Source, &e.EventType, &e.ExternalAccountID, &e.ObjectID,
			&e.CorrelationID, &e.Status, &e.ErrorCode, &e.Message, &payload, &e.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи event_log: %w", err)
		}
		e.Payload = payload
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации event_log: %w", err)
	}
	return result, nil
}
