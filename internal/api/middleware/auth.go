// auth.go — JWT middleware аутентификации вызовов от установки локальной CRM.
// Подпись проверяется через JWKS локальной CRM, ключ установки (tenant key)
// извлекается из настраиваемого claim и помещается в контекст запроса.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/crm-sync/internal/api/errors"
)

type contextKey string

const (
	// ContextKeyTenant — ключ установки в контексте запроса.
	ContextKeyTenant contextKey = "tenant_key"
	// ContextKeySubject — sub из JWT.
	ContextKeySubject contextKey = "jwt_subject"
)

// JWTAuthConfig — параметры JWT middleware.
type JWTAuthConfig struct {
	JWKSURL string
	// Issuer — ожидаемый iss (пустой — не проверяется)
	Issuer string
	// TenantClaim — имя claim с ключом установки
	TenantClaim     string
	RefreshInterval time.Duration
	Leeway          time.Duration
	// HTTPClient — клиент для загрузки JWKS (nil — http.DefaultClient)
	HTTPClient *http.Client
}

// JWTAuth — middleware JWT-аутентификации установки.
type JWTAuth struct {
	jwks        keyfunc.Keyfunc
	issuer      string
	tenantClaim string
	leeway      time.Duration
	logger      *slog.Logger
}

// NewJWTAuth создаёт JWT middleware с JWKS локальной CRM и фоновым обновлением ключей.
func NewJWTAuth(cfg JWTAuthConfig, logger *slog.Logger) (*JWTAuth, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	// NoErrorReturnFirstHTTPReq — стартуем, даже если JWKS ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", cfg.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	auth := NewJWTAuthWithKeyfunc(k, cfg.Issuer, cfg.TenantClaim, logger)
	auth.leeway = cfg.Leeway
	return auth, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer, tenantClaim string, logger *slog.Logger) *JWTAuth {
	if tenantClaim == "" {
		tenantClaim = "tenant_key"
	}
	return &JWTAuth{
		jwks:        kf,
		issuer:      issuer,
		tenantClaim: tenantClaim,
		logger:      logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware проверяет Bearer token и помещает ключ установки в контекст.
// Токен без claim установки отклоняется с 401.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256", "ES256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.leeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(strings.TrimSpace(parts[1]), claims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				j.logger.Debug("JWT валидация не пройдена",
					slog.Any("error", err),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			tenantKey := tenantFromClaims(claims, j.tenantClaim)
			if tenantKey == "" {
				apierrors.Unauthorized(w, fmt.Sprintf("Отсутствует claim %s в токене", j.tenantClaim))
				return
			}

			subject, _ := claims.GetSubject()
			ctx := context.WithValue(r.Context(), ContextKeyTenant, tenantKey)
			ctx = context.WithValue(ctx, ContextKeySubject, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// tenantFromClaims извлекает ключ установки. Числовые значения
// приводятся к строке.
func tenantFromClaims(claims jwt.MapClaims, name string) string {
	switch v := claims[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

// TenantFromContext возвращает ключ установки из контекста запроса.
// Пустая строка — запрос не прошёл JWT middleware.
func TenantFromContext(ctx context.Context) string {
	tenant, _ := ctx.Value(ContextKeyTenant).(string)
	return tenant
}

// WithTenant помещает ключ установки в контекст.
func WithTenant(ctx context.Context, tenantKey string) context.Context {
	return context.WithValue(ctx, ContextKeyTenant, tenantKey)
}
