package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/crm-sync/internal/domain/model"
)

// SyncRecorder фиксирует результат распространения: связь контактов
// и запись журнала синхронизации в одной транзакции.
type SyncRecorder struct {
	tx *TxRunner
}

// NewSyncRecorder создаёт SyncRecorder.
func NewSyncRecorder(tx *TxRunner) *SyncRecorder {
	return &SyncRecorder{tx: tx}
}

// Commit сохраняет link (может быть nil) и entry атомарно.
func (r *SyncRecorder) Commit(ctx context.Context, link *model.ContactLink, entry *model.LedgerEntry) error {
	return r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		if link != nil {
			if err := NewIdentityMapRepository(tx).Upsert(ctx, link); err != nil {
				return err
			}
		}
		return NewLedgerRepository(tx).Insert(ctx, entry)
	})
}
