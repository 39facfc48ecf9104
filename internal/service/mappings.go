// mappings.go — правила сопоставления полей установки.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bigkaa/goartstore/crm-sync/internal/domain/mapping"
	"github.com/bigkaa/goartstore/crm-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/crm-sync/internal/repository"
)

// MappingService читает и заменяет правила сопоставления.
type MappingService struct {
	repo   repository.MappingRepository
	logger *slog.Logger
}

// NewMappingService создаёт сервис правил сопоставления.
func NewMappingService(repo repository.MappingRepository, logger *slog.Logger) *MappingService {
	return &MappingService{
		repo:   repo,
		logger: logger.With(slog.String("component", "mappings")),
	}
}

// List возвращает правила установки.
func (s *MappingService) List(ctx context.Context, tenantKey string) ([]model.FieldMapping, error) {
	return s.repo.ListByTenant(ctx, tenantKey)
}

// Replace проверяет набор правил и заменяет им текущий целиком.
// При ошибке валидации хранилище не изменяется.
func (s *MappingService) Replace(ctx context.Context, tenantKey string, mappings []model.FieldMapping) ([]model.FieldMapping, error) {
	normalized := make([]model.FieldMapping, len(mappings))
	for i, m := range mappings {
		m.LocalField = strings.TrimSpace(m.LocalField)
		m.RemoteProperty = strings.TrimSpace(m.RemoteProperty)
		if m.Direction == "" {
			m.Direction = model.DirectionBidirectional
		}
		if m.Transform == "" {
			m.Transform = model.TransformNone
		}
		normalized[i] = m
	}

	if err := mapping.Validate(normalized); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	saved, err := s.repo.ReplaceAll(ctx, tenantKey, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return nil, wrapStore("сохранение правил сопоставления", err)
	}

	s.logger.Info("Правила сопоставления обновлены",
		slog.String("tenant_key", tenantKey),
		slog.Int("count", len(saved)),
	)
	return saved, nil
}
