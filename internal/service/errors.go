// errors.go — ошибки бизнес-логики сервисного слоя и их стабильные коды.
package service

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bigkaa/goartstore/crm-sync/internal/webhook"
)

var (
	// ErrNotConnected — установка не подключена к удалённой CRM.
	ErrNotConnected = errors.New("установка не подключена к удалённой CRM")
	// ErrAuthFailed — не удалось получить действующий access token.
	ErrAuthFailed = errors.New("ошибка аутентификации в удалённой CRM")
	// ErrInvalidWebhookSignature — подпись webhook не прошла проверку.
	ErrInvalidWebhookSignature = errors.New("некорректная подпись webhook")
	// ErrMalformedPayload — тело webhook не разбирается.
	ErrMalformedPayload = webhook.ErrMalformedPayload
	// ErrRemoteAPI — ошибка REST API удалённой CRM.
	ErrRemoteAPI = errors.New("ошибка API удалённой CRM")
	// ErrLocalAPI — ошибка REST API локальной CRM.
	ErrLocalAPI = errors.New("ошибка API локальной CRM")
	// ErrStoreWriteFailed — ошибка записи в хранилище.
	ErrStoreWriteFailed = errors.New("ошибка записи в хранилище")
	// ErrUnknownAccount — аккаунт удалённой CRM не сопоставлен ни одной установке.
	ErrUnknownAccount = errors.New("неизвестный аккаунт удалённой CRM")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
)

// Коды ошибок (журнал событий, метрики, ответы API).
const (
	CodeNotConnected            = "not_connected"
	CodeAuthFailed              = "auth_failed"
	CodeInvalidWebhookSignature = "invalid_webhook_signature"
	CodeMalformedPayload        = "malformed_payload"
	CodeRemoteAPIError          = "remote_api_error"
	CodeLocalAPIError           = "local_api_error"
	CodeStoreWriteFailed        = "store_write_failed"
	CodeUnknownAccount          = "unknown_account"
	CodeValidationError         = "validation_error"
	CodeInternalError           = "internal_error"
)

// ErrorCode возвращает стабильный код ошибки.
// Порядок проверок важен: ошибка токена внутри вызова удалённой CRM
// классифицируется как auth_failed, а не remote_api_error.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotConnected):
		return CodeNotConnected
	case errors.Is(err, ErrAuthFailed):
		return CodeAuthFailed
	case errors.Is(err, ErrInvalidWebhookSignature):
		return CodeInvalidWebhookSignature
	case errors.Is(err, ErrMalformedPayload):
		return CodeMalformedPayload
	case errors.Is(err, ErrUnknownAccount):
		return CodeUnknownAccount
	case errors.Is(err, ErrValidation):
		return CodeValidationError
	case errors.Is(err, ErrStoreWriteFailed):
		return CodeStoreWriteFailed
	case errors.Is(err, ErrRemoteAPI):
		return CodeRemoteAPIError
	case errors.Is(err, ErrLocalAPI):
		return CodeLocalAPIError
	default:
		return CodeInternalError
	}
}

// Коды ошибок OAuth-потоков.
const (
	FlowMissingClientID     = "missing_client_id"
	FlowMissingClientSecret = "missing_client_secret"
	FlowMissingStateSecret  = "missing_state_signing_secret"
	FlowMissingCodeOrState  = "missing_code_or_state"
	FlowInvalidState        = "invalid_state"
	FlowStateExpired        = "state_expired"
	FlowTenantKeyMismatch   = "tenant_key_mismatch"
	FlowMissingRefreshToken = "missing_refresh_token"
	FlowRemoteOAuthFailed   = "remote_oauth_failed"
)

// FlowError — ошибка OAuth-потока с кодом и HTTP-статусом ответа.
type FlowError struct {
	Code    string
	Status  int
	Details string
	Err     error
}

func (e *FlowError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Details)
	}
	return e.Code
}

func (e *FlowError) Unwrap() error { return e.Err }

func flowError(code string, status int, details string, err error) *FlowError {
	return &FlowError{Code: code, Status: status, Details: details, Err: err}
}

// badRequest — FlowError со статусом 400.
func badRequest(code, details string, err error) *FlowError {
	return flowError(code, http.StatusBadRequest, details, err)
}

// wrapRemote классифицирует ошибку вызова удалённой CRM.
func wrapRemote(op string, err error) error {
	if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrAuthFailed) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrRemoteAPI, op, err)
}

// wrapLocal классифицирует ошибку вызова локальной CRM.
func wrapLocal(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrLocalAPI, op, err)
}

// wrapStore классифицирует ошибку записи в хранилище.
func wrapStore(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreWriteFailed, op, err)
}
