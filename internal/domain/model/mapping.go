package model

import "time"

// Direction — направление синхронизации поля.
type Direction string

const (
	DirectionLocalToRemote Direction = "local_to_remote"
	DirectionRemoteToLocal Direction = "remote_to_local"
	DirectionBidirectional Direction = "bidirectional"
)

// Transform — преобразование значения перед сравнением и записью.
type Transform string

const (
	TransformNone      Transform = "none"
	TransformTrim      Transform = "trim"
	TransformLowercase Transform = "lowercase"
)

// FieldMapping — соответствие поля контакта локальной CRM свойству удалённой CRM.
// Уникально по (TenantKey, RemoteProperty).
type FieldMapping struct {
	ID             string
	TenantKey      string
	LocalField     string
	RemoteProperty string
	Direction      Direction
	Transform      Transform
	CreatedAt      time.Time
}
