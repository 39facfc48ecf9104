// Пакет errors — ответы с ошибками HTTP API CRM Sync.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
package errors

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок HTTP API.
const (
	CodeValidationError         = "VALIDATION_ERROR"
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeNotFound                = "NOT_FOUND"
	CodeNotConnected            = "NOT_CONNECTED"
	CodeAuthFailed              = "AUTH_FAILED"
	CodeInvalidWebhookSignature = "INVALID_WEBHOOK_SIGNATURE"
	CodeMalformedPayload        = "MALFORMED_PAYLOAD"
	CodeRemoteAPIError          = "REMOTE_API_ERROR"
	CodeLocalAPIError           = "LOCAL_API_ERROR"
	CodeStoreWriteFailed        = "STORE_WRITE_FAILED"
	CodeInternalError           = "INTERNAL_ERROR"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в едином формате.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// NotConnected — 409 установка не подключена к удалённой CRM.
func NotConnected(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeNotConnected, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
