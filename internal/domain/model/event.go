package model

import (
	"encoding/json"
	"time"
)

// Источники записей журнала событий.
const (
	EventSourceRemoteWebhook = "remote_webhook"
	EventSourceLocalEvent    = "local_event"
	EventSourceOAuth         = "oauth"
)

// Статусы обработки события.
const (
	EventStatusProcessed = "processed"
	EventStatusIgnored   = "ignored"
	EventStatusSkipped   = "skipped"
	EventStatusFailed    = "failed"
)

// EventLogEntry — диагностическая запись о входящем событии.
// Запись best-effort: ошибка сохранения не влияет на обработку.
type EventLogEntry struct {
	ID                string
	TenantKey         *string
	Source            string
	EventType         string
	ExternalAccountID *string
	ObjectID          *string
	CorrelationID     *string
	Status            string
	ErrorCode         *string
	Message           *string
	Payload           json.RawMessage
	ReceivedAt        time.Time
}
