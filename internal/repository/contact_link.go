package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/crm-sync/internal/domain/model"
)

// IdentityMapRepository — таблица contact_links.
type IdentityMapRepository interface {
	// GetByLocalID возвращает связь по идентификатору локального контакта.
	GetByLocalID(ctx context.Context, tenantKey, localID string) (*model.ContactLink, error)
	// GetByRemoteID возвращает связь по идентификатору удалённого контакта.
	GetByRemoteID(ctx context.Context, tenantKey, remoteID string) (*model.ContactLink, error)
	// Upsert сохраняет связь по локальному идентификатору.
	// Устаревшая связь с тем же удалённым идентификатором удаляется.
	Upsert(ctx context.Context, link *model.ContactLink) error
}

type identityMapRepo struct {
	db DBTX
}

// NewIdentityMapRepository создаёт репозиторий identity map.
func NewIdentityMapRepository(db DBTX) IdentityMapRepository {
	return &identityMapRepo{db: db}
}

const contactLinkColumns = `tenant_key, local_id, remote_id, created_at, updated_at`

func scanContactLink(row pgx.Row) (*model.ContactLink, error) {
	l := &model.ContactLink{}
	err := row.Scan(&l.TenantKey, &l.LocalID, &l.RemoteID, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func (r *identityMapRepo) GetByLocalID(ctx context.Context, tenantKey, localID string) (*model.ContactLink, error) {
	if err := requireTenant(tenantKey); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM contact_links WHERE tenant_key = $1 AND local_id = $2`, contactLinkColumns)
	l, err := scanContactLink(r.db.QueryRow(ctx, query, tenantKey, localID))
	if err != nil {
		return nil, lookupError("ошибка получения связи по local_id", err)
	}
	return l, nil
}

func (r *identityMapRepo) GetByRemoteID(ctx context.Context, tenantKey, remoteID string) (*model.ContactLink, error) {
	if err := requireTenant(tenantKey); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM contact_links WHERE tenant_key = $1 AND remote_id = $2`, contactLinkColumns)
	l, err := scanContactLink(r.db.QueryRow(ctx, query, tenantKey, remoteID))
	if err != nil {
		return nil, lookupError("ошибка получения связи по remote_id", err)
	}
	return l, nil
}

func (r *identityMapRepo) Upsert(ctx context.Context, link *model.ContactLink) error {
	if err := requireTenant(link.TenantKey); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx,
		`DELETE FROM contact_links WHERE tenant_key = $1 AND remote_id = $2 AND local_id <> $3`,
		link.TenantKey, link.RemoteID, link.LocalID,
	)
	if err != nil {
		return fmt.Errorf("ошибка удаления устаревшей связи: %w", err)
	}

	query := `
		INSERT INTO contact_links (tenant_key, local_id, remote_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_key, local_id) DO UPDATE SET remote_id = EXCLUDED.remote_id
		RETURNING created_at, updated_at`
	err = r.db.QueryRow(ctx, query, link.TenantKey, link.LocalID, link.RemoteID).
		Scan(&link.CreatedAt, &link.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: удалённый контакт %s уже связан", ErrConflict, link.RemoteID)
		}
		return fmt.Errorf("ошибка сохранения связи контактов: %w", err)
	}
	return nil
}
