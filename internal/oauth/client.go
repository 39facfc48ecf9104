package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2"
)

// defaultTokenLifetime — срок жизни access token, если token endpoint не вернул expires_in.
const defaultTokenLifetime = 30 * time.Minute

// maxErrorBody — максимальная длина тела ответа в тексте ошибки.
const maxErrorBody = 500

// Config — параметры OAuth-приложения в удалённой CRM.
type Config struct {
	ClientID     string
	ClientSecret string
	AuthorizeURL string
	TokenURL     string
	RedirectURL  string
	Scopes       []string
	// HTTPClient — клиент для token endpoint (nil — http.Client с таймаутом 30s).
	HTTPClient *http.Client
}

// Token — результат обмена code или refresh_token.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	// Scopes — выданные scopes (nil, если token endpoint их не вернул).
	Scopes []string
	// RemoteAccountID — hub_id (пустой, если не вернулся).
	RemoteAccountID string
}

// EndpointError — отказ token endpoint (не-2xx ответ).
type EndpointError struct {
	Status int
	// Code — поле error из ответа (если есть).
	Code string
	// Body — тело ответа, усечённое до 500 символов.
	Body string
	err  error
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("token endpoint вернул статус %d: %s", e.Status, e.Body)
}

func (e *EndpointError) Unwrap() error { return e.err }

// Client — клиент OAuth2 token endpoint удалённой CRM на базе golang.org/x/oauth2.
// Credentials передаются в теле запроса (AuthStyleInParams).
type Client struct {
	cfg        oauth2.Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient создаёт OAuth-клиент.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		cfg: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "oauth_client")),
	}
}

// AuthorizeURL возвращает URL страницы авторизации удалённой CRM
// (client_id, redirect_uri, scope через пробел, state).
func (c *Client) AuthorizeURL(state string) string {
	return c.cfg.AuthCodeURL(state)
}

// Exchange обменивает authorization code на токены (grant_type=authorization_code).
func (c *Client) Exchange(ctx context.Context, code string) (*Token, error) {
	tok, err := c.cfg.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, c.wrapError("обмен authorization code", err)
	}
	return convertToken(tok), nil
}

// Refresh выполняет refresh token grant. Если удалённая CRM не вернула
// новый refresh token, в результате остаётся переданный.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	src := c.cfg.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, c.wrapError("обновление токена", err)
	}
	result := convertToken(tok)
	if result.RefreshToken == "" {
		result.RefreshToken = refreshToken
	}
	return result, nil
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// wrapError превращает oauth2.RetrieveError в EndpointError.
// Транспортные ошибки возвращаются обёрнутыми как есть.
func (c *Client) wrapError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		c.logger.Warn("Token endpoint отклонил запрос",
			slog.String("operation", op),
			slog.Int("status", status),
			slog.String("error_code", re.ErrorCode),
		)
		return &EndpointError{
			Status: status,
			Code:   re.ErrorCode,
			Body:   Truncate(string(re.Body), maxErrorBody),
			err:    err,
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func convertToken(tok *oauth2.Token) *Token {
	result := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if result.ExpiresAt.IsZero() {
		result.ExpiresAt = time.Now().Add(defaultTokenLifetime)
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		result.Scopes = strings.Fields(scope)
	}
	result.RemoteAccountID = extraID(tok.Extra("hub_id"))
	return result
}

// extraID приводит числовой или строковый идентификатор из ответа к строке.
func extraID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case json.Number:
		return id.String()
	default:
		return ""
	}
}

// Truncate обрезает строку до max символов (по рунам).
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
