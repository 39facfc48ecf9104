package model

// SyncDirection — направление попытки распространения изменения.
type SyncDirection string

const (
	SyncOutbound SyncDirection = "outbound"
	SyncInbound  SyncDirection = "inbound"
)

// SyncOutcome — итог попытки распространения.
type SyncOutcome string

const (
	OutcomeCreated   SyncOutcome = "created"
	OutcomeUpdated   SyncOutcome = "updated"
	OutcomeUnchanged SyncOutcome = "unchanged"
	OutcomeEcho      SyncOutcome = "echo"
	OutcomeStale     SyncOutcome = "stale"
	OutcomeSkipped   SyncOutcome = "skipped"
)

// Причины пропуска (OutcomeSkipped).
const (
	SkipNotConnected     = "not_connected"
	SkipNoMappings       = "no_mappings"
	SkipNoMappedValues   = "no_mapped_values"
	SkipMissingUniqueKey = "missing_unique_key"
)

// SyncResult — результат одной попытки распространения.
type SyncResult struct {
	Direction   SyncDirection `json:"direction"`
	Outcome     SyncOutcome   `json:"outcome"`
	Reason      string        `json:"reason,omitempty"`
	LocalID     string        `json:"localId,omitempty"`
	RemoteID    string        `json:"remoteId,omitempty"`
	PayloadHash string        `json:"payloadHash,omitempty"`
	// Wrote — была ли выполнена запись во внешнюю систему
	Wrote bool `json:"wrote"`
}

// ConnectionStatus — состояние подключения для UI установки.
type ConnectionStatus struct {
	Connected        bool     `json:"connected"`
	RemoteAccountID  *string  `json:"remoteAccountId,omitempty"`
	Scopes           []string `json:"scopes"`
	TokenExpiresInMs *int64   `json:"tokenExpiresInMs,omitempty"`
	LastErrorCode    *string  `json:"lastErrorCode,omitempty"`
	LastErrorAt      *string  `json:"lastErrorAt,omitempty"`
}
