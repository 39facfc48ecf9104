// ledger_gc.go — фоновая очистка просроченных записей журнала синхронизации.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/crm-sync/internal/repository"
)

var ledgerGCDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "cs_ledger_gc_deleted_total",
	Help: "Количество удалённых просроченных записей журнала синхронизации",
})

// LedgerGCService периодически удаляет записи с истёкшим сроком действия.
type LedgerGCService struct {
	repo     repository.LedgerRepository
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewLedgerGCService создаёт сервис очистки журнала.
func NewLedgerGCService(repo repository.LedgerRepository, interval time.Duration, logger *slog.Logger) *LedgerGCService {
	return &LedgerGCService{
		repo:     repo,
		interval: interval,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "ledger_gc")),
	}
}

// Start запускает фоновую горутину с ticker.
func (s *LedgerGCService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Очистка журнала синхронизации запущена",
			slog.String("interval", s.interval.String()),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Очистка журнала синхронизации остановлена")
				return
			case <-ticker.C:
				if _, err := s.RunOnce(ctx); err != nil {
					s.logger.Error("Ошибка очистки журнала синхронизации",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (s *LedgerGCService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// RunOnce удаляет просроченные записи и возвращает их количество.
func (s *LedgerGCService) RunOnce(ctx context.Context) (int64, error) {
	deleted, err := s.repo.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	ledgerGCDeletedTotal.Add(float64(deleted))
	if deleted > 0 {
		s.logger.Info("Просроченные записи журнала удалены", slog.Int64("deleted", deleted))
	}
	return deleted, nil
}
