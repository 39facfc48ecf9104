package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/crm-sync/internal/config"
	"github.com/bigkaa/goartstore/crm-sync/internal/database"
	"github.com/bigkaa/goartstore/crm-sync/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер и применяет миграции.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("crmsync_test"),
		postgres.WithUsername("crmsync"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("CS_DB_HOST", host)
	t.Setenv("CS_DB_PORT", port.Port())
	t.Setenv("CS_DB_NAME", "crmsync_test")
	t.Setenv("CS_DB_USER", "crmsync")
	t.Setenv("CS_DB_PASSWORD", "test-password")
	t.Setenv("CS_DB_SSL_MODE", "disable")
	t.Setenv("CS_JWT_JWKS_URL", "http://localhost:8080/jwks.json")
	t.Setenv("CS_LOCAL_API_URL", "http://localhost:9000")
	t.Setenv("CS_LOCAL_API_KEY", "test")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

func strPtr(s string) *string { return &s }

// --- ConnectionRepository ---

func TestConnectionLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewConnectionRepository(pool)

	if _, err := repo.Get(ctx, "tenant-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() до подключения = %v, ожидается ErrNotFound", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	conn := &model.Connection{
		TenantKey:       "tenant-1",
		RemoteAccountID: strPtr("12345"),
		Scopes:          []string{"crm.objects.contacts.read"},
		Tokens: &model.TokenSet{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresAt:    now.Add(30 * time.Minute),
		},
		ConnectedAt: &now,
	}
	if err := repo.Upsert(ctx, conn); err != nil {
		t.Fatalf("Upsert() ошибка: %v", err)
	}

	if err := repo.SetLastError(ctx, "tenant-1", "auth_failed", now); err != nil {
		t.Fatalf("SetLastError() ошибка: %v", err)
	}

	got, err := repo.GetByRemoteAccountID(ctx, "12345")
	if err != nil {
		t.Fatalf("GetByRemoteAccountID() ошибка: %v", err)
	}
	if !got.Connected() || got.Tokens.AccessToken != "access-1" {
		t.Errorf("подключение = %+v, ожидаются токены", got)
	}
	if got.LastErrorCode == nil || *got.LastErrorCode != "auth_failed" {
		t.Errorf("LastErrorCode = %v, ожидается auth_failed", got.LastErrorCode)
	}

	// Обновление токенов сбрасывает последнюю ошибку, scopes сохраняются
	err = repo.UpdateTokens(ctx, "tenant-1", model.TokenSet{
		AccessToken:  "access-2",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(time.Hour),
	}, nil, nil)
	if err != nil {
		t.Fatalf("UpdateTokens() ошибка: %v", err)
	}
	got, _ = repo.Get(ctx, "tenant-1")
	if got.Tokens.AccessToken != "access-2" || got.LastErrorCode != nil {
		t.Errorf("после UpdateTokens: %+v", got)
	}
	if len(got.Scopes) != 1 {
		t.Errorf("Scopes = %v, ожидались прежние", got.Scopes)
	}

	// Disconnect: токены удалены, запись сохранена
	if err := repo.Clear(ctx, "tenant-1"); err != nil {
		t.Fatalf("Clear() ошибка: %v", err)
	}
	got, err = repo.Get(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("Get() после Clear ошибка: %v", err)
	}
	if got.Connected() || got.Tokens != nil {
		t.Errorf("после Clear подключение активно: %+v", got)
	}
	if got.RemoteAccountID == nil || *got.RemoteAccountID != "12345" {
		t.Errorf("RemoteAccountID = %v, ожидается сохранённый", got.RemoteAccountID)
	}

	if err := repo.Clear(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Clear(missing) = %v, ожидается ErrNotFound", err)
	}
}

// --- MappingRepository ---

func TestMappingReplaceAll(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewMappingRepository(pool)

	first := []model.FieldMapping{
		{LocalField: "email", RemoteProperty: "email", Direction: model.DirectionBidirectional, Transform: model.TransformLowercase},
		{LocalField: "firstName", RemoteProperty: "firstname", Direction: model.DirectionBidirectional, Transform: model.TransformTrim},
	}
	saved, err := repo.ReplaceAll(ctx, "tenant-1", first)
	if err != nil {
		t.Fatalf("ReplaceAll() ошибка: %v", err)
	}
	if len(saved) != 2 || saved[0].ID == "" {
		t.Fatalf("ReplaceAll() = %+v", saved)
	}

	// Дубликат свойства — конфликт, прежние правила не тронуты
	dup := []model.FieldMapping{
		{LocalField: "email", RemoteProperty: "email", Direction: model.DirectionBidirectional, Transform: model.TransformNone},
		{LocalField: "phone", RemoteProperty: "email", Direction: model.DirectionBidirectional, Transform: model.TransformNone},
	}
	if _, err := repo.ReplaceAll(ctx, "tenant-1", dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("ReplaceAll(дубликат) = %v, ожидается ErrConflict", err)
	}
	list, err := repo.ListByTenant(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("ListByTenant() ошибка: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("после отката правил = %d, ожидается 2", len(list))
	}

	// Другая установка не видит чужие правила
	other, _ := repo.ListByTenant(ctx, "tenant-2")
	if len(other) != 0 {
		t.Errorf("tenant-2: %d правил, ожидается 0", len(other))
	}
}

// --- IdentityMapRepository + SyncRecorder ---

func TestIdentityMapAndRecorder(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	links := NewIdentityMapRepository(pool)
	recorder := NewSyncRecorder(NewTxRunner(pool))
	ledger := NewLedgerRepository(pool)

	now := time.Now().UTC()
	entry := &model.LedgerEntry{
		ID:          uuid.NewString(),
		TenantKey:   "tenant-1",
		EntityType:  model.EntityContact,
		Source:      model.SourceRemote,
		LocalID:     strPtr("L1"),
		RemoteID:    strPtr("R1"),
		PayloadHash: "hash-1",
		CreatedAt:   now,
		ExpiresAt:   now.Add(2 * time.Minute),
	}
	link := &model.ContactLink{TenantKey: "tenant-1", LocalID: "L1", RemoteID: "R1"}
	if err := recorder.Commit(ctx, link, entry); err != nil {
		t.Fatalf("Commit() ошибка: %v", err)
	}

	got, err := links.GetByRemoteID(ctx, "tenant-1", "R1")
	if err != nil || got.LocalID != "L1" {
		t.Fatalf("GetByRemoteID() = %+v, %v", got, err)
	}

	// Перепривязка удалённого контакта к другому локальному удаляет старую связь
	if err := links.Upsert(ctx, &model.ContactLink{TenantKey: "tenant-1", LocalID: "L2", RemoteID: "R1"}); err != nil {
		t.Fatalf("Upsert() ошибка: %v", err)
	}
	if _, err := links.GetByLocalID(ctx, "tenant-1", "L1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("устаревшая связь L1 не удалена: %v", err)
	}

	recent, err := ledger.QueryRecent(ctx, model.LedgerQuery{
		TenantKey: "tenant-1", EntityType: model.EntityContact, Source: model.SourceRemote,
		RemoteID: "R1", PayloadHash: "hash-1",
	})
	if err != nil || len(recent) != 1 {
		t.Fatalf("QueryRecent() = %v, %v", recent, err)
	}

	// Дублирующийся id записи — транзакция откатывается вместе со связью
	failing := *entry
	err = recorder.Commit(ctx, &model.ContactLink{TenantKey: "tenant-1", LocalID: "L3", RemoteID: "R3"}, &failing)
	if err == nil {
		t.Fatal("Commit() с дублирующимся id должен вернуть ошибку")
	}
	if _, err := links.GetByLocalID(ctx, "tenant-1", "L3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("связь L3 сохранена несмотря на откат: %v", err)
	}

	deleted, err := ledger.DeleteExpired(ctx, now.Add(3*time.Minute))
	if err != nil || deleted != 1 {
		t.Errorf("DeleteExpired() = %d, %v; ожидается 1", deleted, err)
	}
}

// --- EventLogRepository ---

func TestEventLogListRecent(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewEventLogRepository(pool)

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		e := &model.EventLogEntry{
			ID:         uuid.NewString(),
			TenantKey:  strPtr("tenant-1"),
			Source:     model.EventSourceRemoteWebhook,
			EventType:  "contact.propertyChange",
			Status:     model.EventStatusProcessed,
			Payload:    []byte(`{"objectId":1}`),
			ReceivedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.Insert(ctx, e); err != nil {
			t.Fatalf("Insert() ошибка: %v", err)
		}
	}

	list, err := repo.ListRecent(ctx, "tenant-1", 2)
	if err != nil {
		t.Fatalf("ListRecent() ошибка: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListRecent() вернул %d записей, ожидается 2", len(list))
	}
	if !list[0].ReceivedAt.After(list[1].ReceivedAt) {
		t.Error("записи должны быть отсортированы от новых к старым")
	}
	if len(list[0].Payload) == 0 {
		t.Error("payload не сохранён")
	}
}
