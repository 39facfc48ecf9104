// sync.go — оркестратор двусторонней синхронизации контактов.
//
// Outbound (локальная CRM → удалённая CRM):
//  1. Подключение установки; без токенов — skipped/not_connected
//  2. Правила outbound; нет значений — skipped/no_mapped_values
//  3. Хэш канонических значений; запись журнала source=remote — echo
//  4. Удалённый id из identity map, иначе поиск по email
//  5. Удалённая сторона новее локальной — stale, без записи
//  6. Создание (нужен email) или обновление удалённого контакта
//  7. Связь + запись журнала source=local в одной транзакции
//
// Inbound (удалённая CRM → локальная CRM) симметричен: чтение удалённого
// контакта, эхо по source=local, поиск локального контакта, сравнение
// по полям (unchanged без записи), связь + запись журнала source=remote.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/crm-sync/internal/domain/mapping"
	"github.com/bigkaa/goartstore/crm-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/crm-sync/internal/domain/payloadhash"
	"github.com/bigkaa/goartstore/crm-sync/internal/localcrm"
	"github.com/bigkaa/goartstore/crm-sync/internal/remotecrm"
	"github.com/bigkaa/goartstore/crm-sync/internal/repository"
)

var syncPropagationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cs_sync_propagations_total",
	Help: "Количество попыток распространения изменений по направлению и итогу",
}, []string{"direction", "outcome"})

// RemoteContacts — операции с контактами удалённой CRM.
type RemoteContacts interface {
	GetContact(ctx context.Context, tenantKey, id string, properties []string) (*remotecrm.Contact, error)
	SearchByEmail(ctx context.Context, tenantKey, email string, properties []string) (*remotecrm.Contact, error)
	CreateContact(ctx context.Context, tenantKey string, properties map[string]string) (*remotecrm.Contact, error)
	UpdateContact(ctx context.Context, tenantKey, id string, properties map[string]string) (*remotecrm.Contact, error)
}

// LocalContacts — операции с контактами локальной CRM.
type LocalContacts interface {
	GetContact(ctx context.Context, tenantKey, id string) (*localcrm.Contact, error)
	FindByEmail(ctx context.Context, tenantKey, email string) (*localcrm.Contact, error)
	CreateContact(ctx context.Context, tenantKey string, fields map[string]string) (*localcrm.Contact, error)
	UpdateContact(ctx context.Context, tenantKey, id string, revision int64, fields map[string]string) (*localcrm.Contact, error)
}

// SyncCommitter атомарно сохраняет связь контактов и запись журнала.
type SyncCommitter interface {
	Commit(ctx context.Context, link *model.ContactLink, entry *model.LedgerEntry) error
}

// Orchestrator распространяет изменения контактов между CRM.
type Orchestrator struct {
	conns    repository.ConnectionRepository
	mappings repository.MappingRepository
	links    repository.IdentityMapRepository
	ledger   *LedgerService
	recorder SyncCommitter
	remote   RemoteContacts
	local    LocalContacts
	now      func() time.Time
	logger   *slog.Logger
}

// NewOrchestrator создаёт оркестратор синхронизации.
func NewOrchestrator(
	conns repository.ConnectionRepository,
	mappings repository.MappingRepository,
	links repository.IdentityMapRepository,
	ledger *LedgerService,
	recorder SyncCommitter,
	remote RemoteContacts,
	local LocalContacts,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		conns:    conns,
		mappings: mappings,
		links:    links,
		ledger:   ledger,
		recorder: recorder,
		remote:   remote,
		local:    local,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "sync")),
	}
}

// SyncOutbound распространяет изменение локального контакта в удалённую CRM.
func (o *Orchestrator) SyncOutbound(ctx context.Context, tenantKey string, contact *localcrm.Contact, correlationID string) (*model.SyncResult, error) {
	result := &model.SyncResult{Direction: model.SyncOutbound, LocalID: contact.ID}
	defer o.observe(result)

	connected, err := o.isConnected(ctx, tenantKey)
	if err != nil {
		return nil, err
	}
	if !connected {
		return skip(result, model.SkipNotConnected), nil
	}

	all, err := o.mappings.ListByTenant(ctx, tenantKey)
	if err != nil {
		return nil, fmt.Errorf("получение правил сопоставления: %w", err)
	}
	resolved := mapping.Resolve(all, mapping.Outbound)
	if len(resolved) == 0 {
		return skip(result, model.SkipNoMappings), nil
	}
	values := mapping.ApplyOutbound(contact.Fields(), resolved)
	if values.Empty() {
		return skip(result, model.SkipNoMappedValues), nil
	}
	result.PayloadHash = payloadhash.Hash(values.Canonical)

	now := o.now()
	echo, err := o.ledger.WasRecentlySynced(ctx, model.LedgerQuery{
		TenantKey:   tenantKey,
		EntityType:  model.EntityContact,
		Source:      model.SourceRemote,
		LocalID:     contact.ID,
		PayloadHash: result.PayloadHash,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("проверка журнала синхронизации: %w", err)
	}
	if echo {
		result.Outcome = model.OutcomeEcho
		return result, nil
	}

	var remoteContact *remotecrm.Contact
	remoteID, err := o.linkedRemoteID(ctx, tenantKey, contact.ID)
	if err != nil {
		return nil, err
	}
	if remoteID == "" && strings.TrimSpace(contact.Email) != "" {
		remoteContact, err = o.remote.SearchByEmail(ctx, tenantKey, contact.Email,
			[]string{mapping.PropertyEmail, remotecrm.PropertyLastModified})
		if err != nil {
			return nil, wrapRemote("поиск контакта по email", err)
		}
		if remoteContact != nil {
			remoteID = remoteContact.ID
		}
	}

	// Свежесть: удалённая сторона изменена позже локальной — не перезаписываем.
	if remoteID != "" && contact.UpdatedAt != nil {
		if remoteContact == nil {
			remoteContact, err = o.remote.GetContact(ctx, tenantKey, remoteID, []string{remotecrm.PropertyLastModified})
			switch {
			case remotecrm.IsNotFound(err):
				o.logger.Info("Связанный удалённый контакт не найден, будет создан заново",
					slog.String("tenant_key", tenantKey),
					slog.String("remote_id", remoteID),
				)
				remoteID = ""
			case err != nil:
				return nil, wrapRemote("чтение удалённого контакта", err)
			}
		}
		if remoteID != "" {
			if modified, ok := remoteContact.LastModified(); ok && modified.After(*contact.UpdatedAt) {
				result.RemoteID = remoteID
				result.Outcome = model.OutcomeStale
				return result, nil
			}
		}
	}

	if remoteID == "" {
		if _, ok := values.Properties[mapping.PropertyEmail]; !ok {
			return skip(result, model.SkipMissingUniqueKey), nil
		}
		created, err := o.remote.CreateContact(ctx, tenantKey, values.Properties)
		if err != nil {
			return nil, wrapRemote("создание удалённого контакта", err)
		}
		remoteID = created.ID
		result.Outcome = model.OutcomeCreated
	} else {
		if _, err := o.remote.UpdateContact(ctx, tenantKey, remoteID, values.Properties); err != nil {
			return nil, wrapRemote("обновление удалённого контакта", err)
		}
		result.Outcome = model.OutcomeUpdated
	}
	result.RemoteID = remoteID
	result.Wrote = true

	if err := o.commit(ctx, tenantKey, model.SourceLocal, contact.ID, remoteID, correlationID, result.PayloadHash, now); err != nil {
		return nil, err
	}

	o.logger.Info("Контакт отправлен в удалённую CRM",
		slog.String("tenant_key", tenantKey),
		slog.String("local_id", contact.ID),
		slog.String("remote_id", remoteID),
		slog.String("outcome", string(result.Outcome)),
		slog.String("correlation_id", correlationID),
	)
	return result, nil
}

// SyncInbound распространяет изменение удалённого контакта в локальную CRM.
func (o *Orchestrator) SyncInbound(ctx context.Context, tenantKey, remoteID, correlationID string) (*model.SyncResult, error) {
	result := &model.SyncResult{Direction: model.SyncInbound, RemoteID: remoteID}
	defer o.observe(result)

	connected, err := o.isConnected(ctx, tenantKey)
	if err != nil {
		return nil, err
	}
	if !connected {
		return skip(result, model.SkipNotConnected), nil
	}

	all, err := o.mappings.ListByTenant(ctx, tenantKey)
	if err != nil {
		return nil, fmt.Errorf("получение правил сопоставления: %w", err)
	}
	resolved := mapping.Resolve(all, mapping.Inbound)
	if len(resolved) == 0 {
		return skip(result, model.SkipNoMappings), nil
	}

	remoteContact, err := o.remote.GetContact(ctx, tenantKey, remoteID, mapping.RemoteProperties(resolved))
	if err != nil {
		return nil, wrapRemote("чтение удалённого контакта", err)
	}
	values := mapping.ApplyInbound(remoteContact.Properties, resolved)
	if len(values) == 0 {
		return skip(result, model.SkipNoMappedValues), nil
	}
	result.PayloadHash = payloadhash.Hash(values)

	now := o.now()
	echo, err := o.ledger.WasRecentlySynced(ctx, model.LedgerQuery{
		TenantKey:   tenantKey,
		EntityType:  model.EntityContact,
		Source:      model.SourceLocal,
		RemoteID:    remoteID,
		PayloadHash: result.PayloadHash,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("проверка журнала синхронизации: %w", err)
	}
	if echo {
		result.Outcome = model.OutcomeEcho
		return result, nil
	}

	var localContact *localcrm.Contact
	localID, err := o.linkedLocalID(ctx, tenantKey, remoteID)
	if err != nil {
		return nil, err
	}
	if localID == "" {
		email := values[mapping.FieldEmail]
		if email == "" {
			email = strings.TrimSpace(remoteContact.Properties[mapping.PropertyEmail])
		}
		if email != "" {
			localContact, err = o.local.FindByEmail(ctx, tenantKey, email)
			if err != nil {
				return nil, wrapLocal("поиск локального контакта по email", err)
			}
			if localContact != nil {
				localID = localContact.ID
			}
		}
	}

	if localID != "" && localContact == nil {
		localContact, err = o.local.GetContact(ctx, tenantKey, localID)
		switch {
		case localcrm.IsNotFound(err):
			o.logger.Info("Связанный локальный контакт не найден, будет создан заново",
				slog.String("tenant_key", tenantKey),
				slog.String("local_id", localID),
			)
			localID = ""
		case err != nil:
			return nil, wrapLocal("чтение локального контакта", err)
		}
	}

	switch {
	case localID == "":
		created, err := o.local.CreateContact(ctx, tenantKey, values)
		if err != nil {
			return nil, wrapLocal("создание локального контакта", err)
		}
		localID = created.ID
		result.Outcome = model.OutcomeCreated
		result.Wrote = true
	case sameFields(localContact.Fields(), values):
		result.Outcome = model.OutcomeUnchanged
	default:
		if _, err := o.local.UpdateContact(ctx, tenantKey, localID, localContact.Revision, values); err != nil {
			return nil, wrapLocal("обновление локального контакта", err)
		}
		result.Outcome = model.OutcomeUpdated
		result.Wrote = true
	}
	result.LocalID = localID

	if err := o.commit(ctx, tenantKey, model.SourceRemote, localID, remoteID, correlationID, result.PayloadHash, now); err != nil {
		return nil, err
	}

	o.logger.Info("Контакт получен из удалённой CRM",
		slog.String("tenant_key", tenantKey),
		slog.String("remote_id", remoteID),
		slog.String("local_id", localID),
		slog.String("outcome", string(result.Outcome)),
		slog.String("correlation_id", correlationID),
	)
	return result, nil
}

// isConnected сообщает, есть ли у установки токены удалённой CRM.
func (o *Orchestrator) isConnected(ctx context.Context, tenantKey string) (bool, error) {
	conn, err := o.conns.Get(ctx, tenantKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("получение подключения: %w", err)
	}
	return conn.Connected(), nil
}

func (o *Orchestrator) linkedRemoteID(ctx context.Context, tenantKey, localID string) (string, error) {
	link, err := o.links.GetByLocalID(ctx, tenantKey, localID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("чтение identity map: %w", err)
	}
	return link.RemoteID, nil
}

func (o *Orchestrator) linkedLocalID(ctx context.Context, tenantKey, remoteID string) (string, error) {
	link, err := o.links.GetByRemoteID(ctx, tenantKey, remoteID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("чтение identity map: %w", err)
	}
	return link.LocalID, nil
}

// commit сохраняет связь контактов и запись журнала.
func (o *Orchestrator) commit(ctx context.Context, tenantKey string, source model.SyncSource, localID, remoteID, correlationID, hash string, now time.Time) error {
	link := &model.ContactLink{TenantKey: tenantKey, LocalID: localID, RemoteID: remoteID}
	entry := o.ledger.NewEntry(tenantKey, source, localID, remoteID, correlationID, hash, now)
	if err := o.recorder.Commit(ctx, link, entry); err != nil {
		return wrapStore("сохранение результата синхронизации", err)
	}
	return nil
}

// observe учитывает итог попытки в метриках. Попытка без итога — ошибка.
func (o *Orchestrator) observe(result *model.SyncResult) {
	outcome := string(result.Outcome)
	if outcome == "" {
		outcome = "error"
	}
	syncPropagationsTotal.WithLabelValues(string(result.Direction), outcome).Inc()
}

func skip(result *model.SyncResult, reason string) *model.SyncResult {
	result.Outcome = model.OutcomeSkipped
	result.Reason = reason
	return result
}

// sameFields сообщает, что локальный контакт уже содержит все значения want.
func sameFields(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
