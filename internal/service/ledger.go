// ledger.go — журнал синхронизации для подавления эха.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/crm-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/crm-sync/internal/repository"
)

// DefaultLedgerTTL — срок действия записи журнала по умолчанию.
const DefaultLedgerTTL = 2 * time.Minute

// LedgerService — запись и проверка фактов «сущность с хэшем H записана стороной S».
type LedgerService struct {
	repo repository.LedgerRepository
	ttl  time.Duration
}

// NewLedgerService создаёт сервис журнала. ttl <= 0 заменяется на DefaultLedgerTTL.
func NewLedgerService(repo repository.LedgerRepository, ttl time.Duration) *LedgerService {
	if ttl <= 0 {
		ttl = DefaultLedgerTTL
	}
	return &LedgerService{repo: repo, ttl: ttl}
}

// TTL возвращает срок действия записей.
func (l *LedgerService) TTL() time.Duration { return l.ttl }

// WasRecentlySynced сообщает, есть ли действующая на момент now запись под запрос.
func (l *LedgerService) WasRecentlySynced(ctx context.Context, q model.LedgerQuery, now time.Time) (bool, error) {
	entries, err := l.repo.QueryRecent(ctx, q)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.ExpiresAt.After(now) {
			return true, nil
		}
	}
	return false, nil
}

// NewEntry создаёт запись журнала со сроком действия now+TTL.
func (l *LedgerService) NewEntry(tenantKey string, source model.SyncSource, localID, remoteID, correlationID, payloadHash string, now time.Time) *model.LedgerEntry {
	return &model.LedgerEntry{
		ID:            uuid.NewString(),
		TenantKey:     tenantKey,
		EntityType:    model.EntityContact,
		Source:        source,
		LocalID:       optional(localID),
		RemoteID:      optional(remoteID),
		CorrelationID: optional(correlationID),
		PayloadHash:   payloadHash,
		CreatedAt:     now.UTC(),
		ExpiresAt:     now.UTC().Add(l.ttl),
	}
}

// Record сохраняет запись журнала.
func (l *LedgerService) Record(ctx context.Context, entry *model.LedgerEntry) error {
	if err := l.repo.Insert(ctx, entry); err != nil {
		return wrapStore("запись в журнал синхронизации", err)
	}
	return nil
}

// optional возвращает nil для пустой строки.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
