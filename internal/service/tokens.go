// tokens.go — управление жизненным циклом OAuth-токенов удалённой CRM.
//
// TokenManager не кэширует токены и не использует блокировок: источник
// истины — таблица connections. При параллельном обновлении выигрывает
// последняя запись, оба выданных токена остаются пригодными.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/crm-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/crm-sync/internal/oauth"
	"github.com/bigkaa/goartstore/crm-sync/internal/repository"
)

// TokenSafetyWindow — токен, истекающий раньше now+окно, обновляется заранее.
const TokenSafetyWindow = 60 * time.Second

var tokenRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cs_token_refresh_total",
	Help: "Количество обновлений access token по результату",
}, []string{"result"})

// TokenRefresher выполняет refresh token grant.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth.Token, error)
}

// TokenManager выдаёт действующие access token установок.
type TokenManager struct {
	conns     repository.ConnectionRepository
	refresher TokenRefresher
	now       func() time.Time
	logger    *slog.Logger
}

// NewTokenManager создаёт менеджер токенов.
func NewTokenManager(conns repository.ConnectionRepository, refresher TokenRefresher, logger *slog.Logger) *TokenManager {
	return &TokenManager{
		conns:     conns,
		refresher: refresher,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "token_manager")),
	}
}

// GetValidAccessToken возвращает access token установки, при необходимости
// обновляя его. Устаревший токен никогда не возвращается.
func (m *TokenManager) GetValidAccessToken(ctx context.Context, tenantKey string) (string, error) {
	conn, err := m.conns.Get(ctx, tenantKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrNotConnected
		}
		return "", fmt.Errorf("получение подключения: %w", err)
	}
	if !conn.Connected() {
		return "", ErrNotConnected
	}

	now := m.now()
	if conn.Tokens.ExpiresAt.After(now.Add(TokenSafetyWindow)) {
		return conn.Tokens.AccessToken, nil
	}

	tok, err := m.refresher.Refresh(ctx, conn.Tokens.RefreshToken)
	if err != nil {
		tokenRefreshTotal.WithLabelValues("failed").Inc()
		if setErr := m.conns.SetLastError(ctx, tenantKey, CodeAuthFailed, now.UTC()); setErr != nil {
			m.logger.Warn("Не удалось сохранить last_error_code",
				slog.String("tenant_key", tenantKey),
				slog.String("error", setErr.Error()),
			)
		}
		m.logger.Warn("Ошибка обновления access token",
			slog.String("tenant_key", tenantKey),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}

	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		refreshToken = conn.Tokens.RefreshToken
	}
	var remoteAccountID *string
	if tok.RemoteAccountID != "" {
		remoteAccountID = &tok.RemoteAccountID
	}
	tokens := model.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    tok.ExpiresAt.UTC(),
	}
	if err := m.conns.UpdateTokens(ctx, tenantKey, tokens, tok.Scopes, remoteAccountID); err != nil {
		tokenRefreshTotal.WithLabelValues("failed").Inc()
		return "", wrapStore("сохранение обновлённых токенов", err)
	}

	tokenRefreshTotal.WithLabelValues("ok").Inc()
	m.logger.Debug("Access token обновлён",
		slog.String("tenant_key", tenantKey),
		slog.Time("expires_at", tokens.ExpiresAt),
	)
	return tok.AccessToken, nil
}
