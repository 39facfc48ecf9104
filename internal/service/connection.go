// connection.go — подключение установки к удалённой CRM через OAuth 2.0:
// старт авторизации, завершение обмена кодом, отключение и статус.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/crm-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/crm-sync/internal/oauth"
	"github.com/bigkaa/goartstore/crm-sync/internal/repository"
)

// OAuthFlow — операции authorization code flow.
type OAuthFlow interface {
	AuthorizeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth.Token, error)
}

// OAuthSettings — секреты OAuth-потока.
type OAuthSettings struct {
	ClientID     string
	ClientSecret string
	StateSecret  string
}

// ConnectionService управляет подключением установки.
type ConnectionService struct {
	conns    repository.ConnectionRepository
	flow     OAuthFlow
	settings OAuthSettings
	events   *EventService
	now      func() time.Time
	logger   *slog.Logger
}

// NewConnectionService создаёт сервис подключений.
func NewConnectionService(
	conns repository.ConnectionRepository,
	flow OAuthFlow,
	settings OAuthSettings,
	events *EventService,
	logger *slog.Logger,
) *ConnectionService {
	return &ConnectionService{
		conns:    conns,
		flow:     flow,
		settings: settings,
		events:   events,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "connection")),
	}
}

// checkSecrets проверяет, что секреты OAuth заданы.
func (s *ConnectionService) checkSecrets() error {
	switch {
	case s.settings.ClientID == "":
		return flowError(FlowMissingClientID, http.StatusInternalServerError, "CS_REMOTE_CLIENT_ID не задан", nil)
	case s.settings.ClientSecret == "":
		return flowError(FlowMissingClientSecret, http.StatusInternalServerError, "CS_REMOTE_CLIENT_SECRET не задан", nil)
	case s.settings.StateSecret == "":
		return flowError(FlowMissingStateSecret, http.StatusInternalServerError, "CS_OAUTH_STATE_SECRET не задан", nil)
	}
	return nil
}

// StartOAuth возвращает URL авторизации с подписанным state.
func (s *ConnectionService) StartOAuth(_ context.Context, tenantKey string) (string, error) {
	if err := s.checkSecrets(); err != nil {
		return "", err
	}
	state, err := oauth.IssueState(s.settings.StateSecret, tenantKey, s.now())
	if err != nil {
		return "", fmt.Errorf("формирование state: %w", err)
	}
	return s.flow.AuthorizeURL(state), nil
}

// FinishOAuth проверяет state, обменивает code на токены и сохраняет подключение.
func (s *ConnectionService) FinishOAuth(ctx context.Context, tenantKey, code, state string) (*model.ConnectionStatus, error) {
	code = strings.TrimSpace(code)
	state = strings.TrimSpace(state)
	if code == "" || state == "" {
		return nil, badRequest(FlowMissingCodeOrState, "code и state обязательны", nil)
	}
	if err := s.checkSecrets(); err != nil {
		return nil, err
	}

	now := s.now()
	if _, err := oauth.VerifyState(s.settings.StateSecret, state, tenantKey, now); err != nil {
		switch {
		case errors.Is(err, oauth.ErrStateExpired):
			return nil, badRequest(FlowStateExpired, "", err)
		case errors.Is(err, oauth.ErrTenantMismatch):
			return nil, badRequest(FlowTenantKeyMismatch, "", err)
		default:
			return nil, badRequest(FlowInvalidState, "", err)
		}
	}

	tok, err := s.flow.Exchange(ctx, code)
	if err != nil {
		s.recordOAuth(ctx, tenantKey, "oauth.finish", model.EventStatusFailed, FlowRemoteOAuthFailed, err.Error())
		var endpointErr *oauth.EndpointError
		details := ""
		if errors.As(err, &endpointErr) {
			details = fmt.Sprintf("статус %d: %s", endpointErr.Status, endpointErr.Body)
		}
		return nil, flowError(FlowRemoteOAuthFailed, http.StatusBadGateway, details, err)
	}
	if tok.RefreshToken == "" {
		return nil, badRequest(FlowMissingRefreshToken, "удалённая CRM не вернула refresh token", nil)
	}

	connectedAt := now.UTC()
	conn := &model.Connection{
		TenantKey: tenantKey,
		Scopes:    tok.Scopes,
		Tokens: &model.TokenSet{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			ExpiresAt:    tok.ExpiresAt.UTC(),
		},
		ConnectedAt: &connectedAt,
	}
	if tok.RemoteAccountID != "" {
		conn.RemoteAccountID = &tok.RemoteAccountID
	}
	if err := s.conns.Upsert(ctx, conn); err != nil {
		return nil, wrapStore("сохранение подключения", err)
	}

	s.logger.Info("Установка подключена к удалённой CRM",
		slog.String("tenant_key", tenantKey),
		slog.Any("remote_account_id", conn.RemoteAccountID),
		slog.Int("scopes", len(conn.Scopes)),
	)
	s.recordOAuth(ctx, tenantKey, "oauth.finish", model.EventStatusProcessed, "", "")
	return statusOf(conn, s.now()), nil
}

// Disconnect удаляет токены установки. Запись подключения сохраняется.
func (s *ConnectionService) Disconnect(ctx context.Context, tenantKey string) error {
	if err := s.conns.Clear(ctx, tenantKey); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return wrapStore("отключение установки", err)
	}
	s.logger.Info("Установка отключена от удалённой CRM", slog.String("tenant_key", tenantKey))
	s.recordOAuth(ctx, tenantKey, "oauth.disconnect", model.EventStatusProcessed, "", "")
	return nil
}

// Status возвращает состояние подключения установки.
func (s *ConnectionService) Status(ctx context.Context, tenantKey string) (*model.ConnectionStatus, error) {
	conn, err := s.conns.Get(ctx, tenantKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &model.ConnectionStatus{Scopes: []string{}}, nil
		}
		return nil, fmt.Errorf("получение подключения: %w", err)
	}
	return statusOf(conn, s.now()), nil
}

func (s *ConnectionService) recordOAuth(ctx context.Context, tenantKey, eventType, status, code, message string) {
	s.events.Record(ctx, &model.EventLogEntry{
		TenantKey: &tenantKey,
		Source:    model.EventSourceOAuth,
		EventType: eventType,
		Status:    status,
		ErrorCode: optional(code),
		Message:   optional(oauth.Truncate(message, 500)),
	})
}

// statusOf строит ConnectionStatus из подключения.
func statusOf(conn *model.Connection, now time.Time) *model.ConnectionStatus {
	st := &model.ConnectionStatus{
		Connected:       conn.Connected(),
		RemoteAccountID: conn.RemoteAccountID,
		Scopes:          conn.Scopes,
		LastErrorCode:   conn.LastErrorCode,
	}
	if st.Scopes == nil {
		st.Scopes = []string{}
	}
	if conn.Tokens != nil {
		ms := conn.Tokens.ExpiresAt.Sub(now).Milliseconds()
		if ms < 0 {
			ms = 0
		}
		st.TokenExpiresInMs = &ms
	}
	if conn.LastErrorAt != nil {
		at := conn.LastErrorAt.UTC().Format(time.RFC3339)
		st.LastErrorAt = &at
	}
	return st
}
