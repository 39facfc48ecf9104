// Пакет repository — хранилище crm-sync в PostgreSQL: подключения установок,
// правила сопоставления, связи контактов, журнал синхронизации и журнал событий.
// Запросы — чистый SQL через pgx. Каждый метод принимает ключ установки явно
// и отклоняет пустой ключ до обращения к базе.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — нарушение уникальности (например, удалённое свойство уже сопоставлено).
	ErrConflict = errors.New("конфликт уникальности")
	// ErrMissingTenant — вызов без ключа установки.
	ErrMissingTenant = errors.New("не указан ключ установки")
)

// maxTxAttempts — сколько раз RunInTx выполняет транзакцию при конфликте
// сериализации или взаимной блокировке.
const maxTxAttempts = 3

// DBTX — общий интерфейс *pgxpool.Pool и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner выполняет операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn в транзакции. Параллельные webhook об одном контакте
// могут столкнуться на identity map: такие попытки повторяются, поэтому fn
// должна быть пригодна к повторному вызову.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return withRetry(ctx, maxTxAttempts, func() error {
		return r.runOnce(ctx, fn)
	})
}

func (r *TxRunner) runOnce(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // после Commit откат ничего не делает

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// withRetry повторяет run, пока ошибка временная и попытки не исчерпаны.
func withRetry(ctx context.Context, attempts int, run func() error) error {
	var err error
	for range attempts {
		err = run()
		if err == nil || !isRetryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

// isRetryable — конфликт сериализации или deadlock.
func isRetryable(err error) bool {
	code := pgCode(err)
	return code == pgerrcode.SerializationFailure || code == pgerrcode.DeadlockDetected
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == pgerrcode.UniqueViolation
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// requireTenant отклоняет пустой ключ установки.
func requireTenant(tenantKey string) error {
	if tenantKey == "" {
		return ErrMissingTenant
	}
	return nil
}

// lookupError превращает pgx.ErrNoRows в ErrNotFound, остальное оборачивает.
func lookupError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
