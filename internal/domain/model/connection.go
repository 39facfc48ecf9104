// Пакет model — доменные модели CRM Sync.
package model

import "time"

// Connection — подключение установки (tenant) к удалённой CRM.
// Хранится в таблице connections, одна запись на tenant key.
type Connection struct {
	// TenantKey — стабильный идентификатор установки
	TenantKey string
	// RemoteAccountID — идентификатор аккаунта в удалённой CRM (hub_id)
	RemoteAccountID *string
	// Scopes — выданные scopes
	Scopes []string
	// Tokens — токены OAuth (nil после disconnect)
	Tokens *TokenSet
	// LastErrorCode — код последней ошибки (auth_failed, ...)
	LastErrorCode *string
	// LastErrorAt — время последней ошибки
	LastErrorAt *time.Time
	// ConnectedAt — время последнего успешного OAuth exchange
	ConnectedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TokenSet — согласованная пара токенов с временем истечения access token.
// Поля либо заполнены все, либо TokenSet отсутствует целиком.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Connected сообщает, есть ли у подключения пригодные токены.
func (c *Connection) Connected() bool {
	return c != nil && c.Tokens != nil && c.Tokens.AccessToken != "" && c.Tokens.RefreshToken != ""
}
