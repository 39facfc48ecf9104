package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/crm-sync/internal/domain/model"
)

// ConnectionRepository — таблица connections (одна запись на установку).
type ConnectionRepository interface {
	// Get возвращает подключение установки.
	Get(ctx context.Context, tenantKey string) (*model.Connection, error)
	// GetByRemoteAccountID возвращает подключение по идентификатору аккаунта
	// удалённой CRM. При нескольких совпадениях — последнее подключённое.
	GetByRemoteAccountID(ctx context.Context, remoteAccountID string) (*model.Connection, error)
	// Upsert сохраняет результат успешного OAuth exchange.
	Upsert(ctx context.Context, conn *model.Connection) error
	// UpdateTokens сохраняет обновлённые токены и сбрасывает последнюю ошибку.
	UpdateTokens(ctx context.Context, tenantKey string, tokens model.TokenSet, scopes []string, remoteAccountID *string) error
	// SetLastError фиксирует код последней ошибки.
	SetLastError(ctx context.Context, tenantKey, code string, at time.Time) error
	// Clear удаляет токены, сохраняя запись.
	Clear(ctx context.Context, tenantKey string) error
}

type connectionRepo struct {
	db DBTX
}

// NewConnectionRepository создаёт репозиторий подключений.
func NewConnectionRepository(db DBTX) ConnectionRepository {
	return &connectionRepo{db: db}
}

const connectionColumns = `tenant_key, remote_account_id, scopes, access_token, refresh_token,
	token_expires_at, last_error_code, last_error_at, connected_at, created_at, updated_at`

func scanConnection(row pgx.Row) (*model.Connection, error) {
	c := &model.Connection{}
	var accessToken, refreshToken *string
	var expiresAt *time.Time
	err := row.Scan(
		&c.TenantKey, &c.RemoteAccountID, &c.Scopes, &accessToken, &refreshToken,
		&expiresAt, &c.LastErrorCode, &c.LastErrorAt, &c.ConnectedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if accessToken != nil && refreshToken != nil && expiresAt != nil {
		c.Tokens = &model.TokenSet{
			AccessToken:  *accessToken,
			RefreshToken: *refreshToken,
			ExpiresAt:    *expiresAt,
		}
	}
	if c.Scopes == nil {
		c.Scopes = []string{}
	}
	return c, nil
}

func (r *connectionRepo) Get(ctx context.Context, tenantKey string) (*model.Connection, error) {
	if err := requireTenant(tenantKey); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM connections WHERE tenant_key = $1`, connectionColumns)
	c, err := scanConnection(r.db.QueryRow(ctx, query, tenantKey))
	if err != nil {
		return nil, lookupError("ошибка получения подключения", err)
	}
	return c, nil
}

func (r *connectionRepo) GetByRemoteAccountID(ctx context.Context, remoteAccountID string) (*model.Connection, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM connections
		WHERE remote_account_id = $1
		ORDER BY (access_token IS NOT NULL) DESC, connected_at DESC NULLS LAST
		LIMIT 1`, connectionColumns)
	c, err := scanConnection(r.db.QueryRow(ctx, query, remoteAccountID))
	if err != nil {
		return nil, lookupError("ошибка получения подключения по аккаунту", err)
	}
	return c, nil
}

func (r *connectionRepo) Upsert(ctx context.Context, conn *model.Connection) error {
	if err := requireTenant(conn.TenantKey); err != nil {
		return err
	}
	if conn.Tokens == nil {
		return fmt.Errorf("ошибка сохранения подключения: токены не заданы")
	}
	query := `
		INSERT INTO connections (tenant_key, remote_account_id, scopes, access_token,
			refresh_token, token_expires_at, connected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_key) DO UPDATE SET
			remote_account_id = EXCLUDED.remote_account_id,
			scopes = EXCLUDED.scopes,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			connected_at = EXCLUDED.connected_at,
			last_error_code = NULL,
			last_error_at = NULL
		RETURNING created_at, updated_at`

	scopes := conn.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	err := r.db.QueryRow(ctx, query,
		conn.TenantKey, conn.RemoteAccountID, scopes, conn.Tokens.AccessToken,
		conn.Tokens.RefreshToken, conn.Tokens.ExpiresAt, conn.ConnectedAt,
	).Scan(&conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения подключения: %w", err)
	}
	conn.LastErrorCode = nil
	conn.LastErrorAt = nil
	return nil
}

func (r *connectionRepo) UpdateTokens(ctx context.Context, tenantKey string, tokens model.TokenSet, scopes []string, remoteAccountID *string) error {
	if err := requireTenant(tenantKey); err != nil {
		return err
	}
	query := `
		UPDATE connections SET
			access_token = $2,
			refresh_token = $3,
			token_expires_at = $4,
			scopes = COALESCE($5, scopes),
			remote_account_id = COALESCE($6, remote_account_id),
			last_error_code = NULL,
			last_error_at = NULL
		WHERE tenant_key = $1`

	var scopesArg any
	if len(scopes) > 0 {
		scopesArg = scopes
	}
	tag, err := r.db.Exec(ctx, query,
		tenantKey, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt, scopesArg, remoteAccountID,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления токенов: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *connectionRepo) SetLastError(ctx context.Context, tenantKey, code string, at time.Time) error {
	if err := requireTenant(tenantKey); err != nil {
		return err
	}
	query := `UPDATE connections SET last_error_code = $2, last_error_at = $3 WHERE tenant_key = $1`
	tag, err := r.db.Exec(ctx, query, tenantKey, code, at)
	if err != nil {
		return fmt.Errorf("ошибка сохранения last_error_code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *connectionRepo) Clear(ctx context.Context, tenantKey string) error {
	if err := requireTenant(tenantKey); err != nil {
		return err
	}
	query := `
		UPDATE connections SET
			access_token = NULL,
			refresh_token = NULL,
			token_expires_at = NULL,
			last_error_code = NULL,
			last_error_at = NULL
		WHERE tenant_key = $1`
	tag, err := r.db.Exec(ctx, query, tenantKey)
	if err != nil {
		return fmt.Errorf("ошибка очистки подключения: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
