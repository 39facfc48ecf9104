package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/crm-sync/internal/domain/model"
)

// LedgerRepository — таблица sync_ledger.
type LedgerRepository interface {
	// Insert добавляет запись журнала.
	Insert(ctx context.Context, entry *model.LedgerEntry) error
	// QueryRecent возвращает записи, подходящие под запрос, новые первыми.
	// Фильтрация по сроку действия — на стороне вызывающего.
	QueryRecent(ctx context.Context, q model.LedgerQuery) ([]model.LedgerEntry, error)
	// DeleteExpired удаляет записи с expires_at <= before.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type ledgerRepo struct {
	db DBTX
}

// NewLedgerRepository создаёт репозиторий журнала синхронизации.
func NewLedgerRepository(db DBTX) LedgerRepository {
	return &ledgerRepo{db: db}
}

// recentLimit — максимум записей, возвращаемых QueryRecent.
const recentLimit = 20

func (r *ledgerRepo) Insert(ctx context.Context, e *model.LedgerEntry) error {
	if err := requireTenant(e.TenantKey); err != nil {
		return err
	}
	query := `
		INSERT INTO sync_ledger (id, tenant_key, entity_type, source, local_id, remote_id,
			correlation_id, payload_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.Exec(ctx, query,
		e.ID, e.TenantKey, e.EntityType, string(e.Source), e.LocalID, e.RemoteID,
		e.CorrelationID, e.PayloadHash, e.CreatedAt, e.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка записи в sync_ledger: %w", err)
	}
	return nil
}

func (r *ledgerRepo) QueryRecent(ctx context.Context, q model.LedgerQuery) ([]model.LedgerEntry, error) {
	if err := requireTenant(q.TenantKey); err != nil {
		return nil, err
	}
	conditions := []string{"tenant_key = $1", "entity_type = $2", "source = $3", "payload_hash = $4"}
	args := []any{q.TenantKey, q.EntityType, string(q.Source), q.PayloadHash}
	argNum := 5

	if q.LocalID != "" {
		conditions = append(conditions, fmt.Sprintf("local_id = $%d", argNum))
		args = append(args, q.LocalID)
		argNum++
	}
	if q.RemoteID != "" {
		conditions = append(conditions, fmt.Sprintf("remote_id = $%d", argNum))
		args = append(args, q.RemoteID)
		argNum++
	}

	query := fmt.Sprintf(`
		SELECT id, tenant_key, entity_type, source, local_id, remote_id,
			correlation_id, payload_hash, created_at, expires_at
		FROM sync_ledger
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d`, strings.Join(conditions, " AND "), argNum)
	args = append(args, recentLimit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения sync_ledger: %w", err)
	}
	defer rows.Close()

	var result []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var source string
		if err := rows.Scan(
			&e.ID, &e.TenantKey, &e.EntityType, &source, &e.LocalID, &e.RemoteID,
			&e.CorrelationID, &e.PayloadHash, &e.CreatedAt, &e.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи sync_ledger: %w", err)
		}
		e.Source = model.SyncSource(source)
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации sync_ledger: %w", err)
	}
	return result, nil
}

func (r *ledgerRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sync_ledger WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления просроченных записей sync_ledger: %w", err)
	}
	return tag.RowsAffected(), nil
}
