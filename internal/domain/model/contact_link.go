package model

import "time"

// ContactLink — строка identity map: локальный контакт ↔ удалённый контакт.
// (TenantKey, LocalID) и (TenantKey, RemoteID) уникальны.
type ContactLink struct {
	TenantKey string
	LocalID   string
	RemoteID  string
	CreatedAt time.Time
	UpdatedAt time.Time
}
