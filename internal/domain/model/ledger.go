package model

import "time"

// EntityContact — единственный синхронизируемый тип сущности.
const EntityContact = "contact"

// SyncSource — сторона, выполнившая запись.
type SyncSource string

const (
	SourceLocal  SyncSource = "local"
	SourceRemote SyncSource = "remote"
)

// Opposite возвращает противоположную сторону.
func (s SyncSource) Opposite() SyncSource {
	if s == SourceLocal {
		return SourceRemote
	}
	return SourceLocal
}

// LedgerEntry — факт «сущность с хэшем PayloadHash записана стороной Source»,
// действительный до ExpiresAt. Используется только для подавления эха.
type LedgerEntry struct {
	ID            string
	TenantKey     string
	EntityType    string
	Source        SyncSource
	LocalID       *string
	RemoteID      *string
	CorrelationID *string
	PayloadHash   string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// LedgerQuery — параметры поиска недавних записей журнала.
// Пустые LocalID/RemoteID не участвуют в фильтрации.
type LedgerQuery struct {
	TenantKey   string
	EntityType  string
	Source      SyncSource
	LocalID     string
	RemoteID    string
	PayloadHash string
}
