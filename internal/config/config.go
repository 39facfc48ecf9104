// Пакет config — загрузка и валидация конфигурации CRM Sync
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// DefaultRemoteScopes — scopes, запрашиваемые у удалённой CRM по умолчанию.
var DefaultRemoteScopes = []string{
	"crm.objects.contacts.read",
	"crm.objects.contacts.write",
	"crm.schemas.contacts.read",
}

// Config содержит все параметры конфигурации CRM Sync.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Внешний базовый URL сервиса (для redirect_uri по умолчанию)
	PublicBaseURL string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- JWT локальной CRM (аутентификация вызовов от установки) ---

	// URL JWKS endpoint локальной CRM
	JWTJWKSURL string
	// Ожидаемый issuer JWT (пустой — не проверяется)
	JWTIssuer string
	// Claim, содержащий ключ установки (tenant key)
	JWTTenantClaim string
	// Интервал фонового обновления JWKS
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration

	// --- Удалённая CRM ---

	// OAuth client_id приложения (пустой — OAuth flow недоступен)
	RemoteClientID string
	// OAuth client_secret; он же секрет подписи webhook
	RemoteClientSecret string
	// Базовый URL REST API удалённой CRM
	RemoteAPIURL string
	// URL страницы авторизации OAuth
	RemoteAuthorizeURL string
	// URL token endpoint OAuth
	RemoteTokenURL string
	// redirect_uri, зарегистрированный в приложении
	RemoteRedirectURL string
	// Запрашиваемые scopes
	RemoteScopes []string
	// Секрет подписи OAuth state
	OAuthStateSecret string

	// --- Локальная CRM ---

	// Базовый URL REST API локальной CRM
	LocalAPIURL string
	// API-ключ приложения в локальной CRM
	LocalAPIKey string

	// --- Синхронизация ---

	// TTL записи журнала синхронизации
	LedgerTTL time.Duration
	// Интервал очистки просроченных записей журнала
	LedgerGCInterval time.Duration
	// TTL кэша списка свойств удалённой CRM
	PropertyCacheTTL time.Duration
	// Таймаут исходящих HTTP-запросов
	HTTPClientTimeout time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
// Если в рабочем каталоге есть файл .env, его значения подгружаются
// без перезаписи уже заданных переменных.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("CS_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("CS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("CS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CS_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("CS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.PublicBaseURL = strings.TrimRight(getEnvDefault("CS_PUBLIC_BASE_URL", ""), "/")

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("CS_DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("CS_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("CS_DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("CS_DB_NAME")
	if err != nil {
		return nil, err
	}
	cfg.DBUser, err = getEnvRequired("CS_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("CS_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("CS_DB_SSL_MODE", "disable")
	switch cfg.DBSSLMode {
	case "disable", "require", "verify-ca", "verify-full":
	default:
		return nil, fmt.Errorf("CS_DB_SSL_MODE: недопустимое значение %q", cfg.DBSSLMode)
	}

	// --- JWT ---

	cfg.JWTJWKSURL, err = getEnvRequired("CS_JWT_JWKS_URL")
	if err != nil {
		return nil, err
	}
	cfg.JWTIssuer = getEnvDefault("CS_JWT_ISSUER", "")
	cfg.JWTTenantClaim = getEnvDefault("CS_JWT_TENANT_CLAIM", "tenant_key")
	cfg.JWKSRefreshInterval, err = getEnvDuration("CS_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CS_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("CS_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CS_JWT_LEEWAY: %w", err)
	}

	// --- Удалённая CRM ---

	// Credentials приложения необязательны на старте: без них сервис
	// отвечает стабильными кодами ошибок на OAuth-запросы.
	cfg.RemoteClientID = getEnvDefault("CS_REMOTE_CLIENT_ID", "")
	cfg.RemoteClientSecret = getEnvDefault("CS_REMOTE_CLIENT_SECRET", "")
	cfg.OAuthStateSecret = getEnvDefault("CS_OAUTH_STATE_SECRET", "")

	cfg.RemoteAPIURL, err = getEnvURL("CS_REMOTE_API_URL", "https://api.hubapi.com")
	if err != nil {
		return nil, err
	}
	cfg.RemoteAuthorizeURL, err = getEnvURL("CS_REMOTE_AUTHORIZE_URL", "https://app.hubspot.com/oauth/authorize")
	if err != nil {
		return nil, err
	}
	cfg.RemoteTokenURL, err = getEnvURL("CS_REMOTE_TOKEN_URL", cfg.RemoteAPIURL+"/oauth/v1/token")
	if err != nil {
		return nil, err
	}

	defaultRedirect := ""
	if cfg.PublicBaseURL != "" {
		defaultRedirect = cfg.PublicBaseURL + "/oauth/callback"
	}
	cfg.RemoteRedirectURL = getEnvDefault("CS_REMOTE_REDIRECT_URL", defaultRedirect)

	cfg.RemoteScopes = parseCSV(os.Getenv("CS_REMOTE_SCOPES"))
	if len(cfg.RemoteScopes) == 0 {
		cfg.RemoteScopes = append([]string(nil), DefaultRemoteScopes...)
	}

	// --- Локальная CRM ---

	cfg.LocalAPIURL, err = getEnvRequired("CS_LOCAL_API_URL")
	if err != nil {
		return nil, err
	}
	cfg.LocalAPIURL = strings.TrimRight(cfg.LocalAPIURL, "/")
	cfg.LocalAPIKey, err = getEnvRequired("CS_LOCAL_API_KEY")
	if err != nil {
		return nil, err
	}

	// --- Синхронизация ---

	cfg.LedgerTTL, err = getEnvDuration("CS_LEDGER_TTL", 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CS_LEDGER_TTL: %w", err)
	}
	if cfg.LedgerTTL <= 0 {
		return nil, fmt.Errorf("CS_LEDGER_TTL: должен быть положительным")
	}
	cfg.LedgerGCInterval, err = getEnvDuration("CS_LEDGER_GC_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CS_LEDGER_GC_INTERVAL: %w", err)
	}
	cfg.PropertyCacheTTL, err = getEnvDuration("CS_PROPERTY_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CS_PROPERTY_CACHE_TTL: %w", err)
	}
	cfg.HTTPClientTimeout, err = getEnvDuration("CS_HTTP_CLIENT_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CS_HTTP_CLIENT_TIMEOUT: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("CS_DEPHEALTH_GROUP", "crm-sync")
	cfg.DephealthCheckInterval, err = getEnvDuration("CS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("CS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CS_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvURL возвращает абсолютный http(s) URL без завершающего слэша.
func getEnvURL(key, defaultVal string) (string, error) {
	val := strings.TrimRight(getEnvDefault(key, defaultVal), "/")
	u, err := url.Parse(val)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%s: некорректный URL %q", key, val)
	}
	return val, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
