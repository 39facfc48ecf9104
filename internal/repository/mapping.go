package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/crm-sync/internal/domain/model"
)

// MappingRepository — таблица field_mappings.
type MappingRepository interface {
	// ListByTenant возвращает правила сопоставления установки.
	ListByTenant(ctx context.Context, tenantKey string) ([]model.FieldMapping, error)
	// ReplaceAll заменяет все правила установки в одной транзакции.
	ReplaceAll(ctx context.Context, tenantKey string, mappings []model.FieldMapping) ([]model.FieldMapping, error)
}

// txBeginner — DBTX, способный открыть транзакцию (pgxpool.Pool, pgx.Tx).
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type mappingRepo struct {
	db DBTX
}

// NewMappingRepository создаёт репозиторий правил сопоставления.
func NewMappingRepository(db DBTX) MappingRepository {
	return &mappingRepo{db: db}
}

func (r *mappingRepo) ListByTenant(ctx context.Context, tenantKey string) ([]model.FieldMapping, error) {
	if err := requireTenant(tenantKey); err != nil {
		return nil, err
	}
	query := `
		SELECT id, tenant_key, local_field, remote_property, direction, transform, created_at
		FROM field_mappings
		WHERE tenant_key = $1
		ORDER BY created_at, remote_property`

	rows, err := r.db.Query(ctx, query, tenantKey)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения правил сопоставления: %w", err)
	}
	defer rows.Close()

	result := []model.FieldMapping{}
	for rows.Next() {
		var m model.FieldMapping
		if err := rows.Scan(
			&m.ID, &m.TenantKey, &m.LocalField, &m.RemoteProperty, &m.Direction, &m.Transform, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования правила сопоставления: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации правил сопоставления: %w", err)
	}
	return result, nil
}

func (r *mappingRepo) ReplaceAll(ctx context.Context, tenantKey string, mappings []model.FieldMapping) ([]model.FieldMapping, error) {
	if err := requireTenant(tenantKey); err != nil {
		return nil, err
	}
	saved := make([]model.FieldMapping, 0, len(mappings))

	replace := func(tx DBTX) error {
		saved = saved[:0]
		if _, err := tx.Exec(ctx, `DELETE FROM field_mappings WHERE tenant_key = $1`, tenantKey); err != nil {
			return fmt.Errorf("ошибка удаления правил сопоставления: %w", err)
		}
		for _, m := range mappings {
			m.ID = uuid.NewString()
			m.TenantKey = tenantKey
			err := tx.QueryRow(ctx, `
				INSERT INTO field_mappings (id, tenant_key, local_field, remote_property, direction, transform)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING created_at`,
				m.ID, m.TenantKey, m.LocalField, m.RemoteProperty, m.Direction, m.Transform,
			).Scan(&m.CreatedAt)
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: свойство %q уже сопоставлено", ErrConflict, m.RemoteProperty)
				}
				return fmt.Errorf("ошибка вставки правила сопоставления: %w", err)
			}
			saved = append(saved, m)
		}
		return nil
	}

	beginner, ok := r.db.(txBeginner)
	if !ok {
		if err := replace(r.db); err != nil {
			return nil, err
		}
		return saved, nil
	}
	err := withRetry(ctx, maxTxAttempts, func() error {
		return pgx.BeginFunc(ctx, beginner, func(tx pgx.Tx) error {
			return replace(tx)
		})
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}
