// connection.go — обработчики OAuth-подключения установки:
// /api/v1/oauth/start, /api/v1/oauth/finish, /api/v1/connection/*.
package handlers

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/crm-sync/internal/api/errors"
	"github.com/bigkaa/goartstore/crm-sync/internal/api/middleware"
)

type oauthStartResponse struct {
	AuthorizeURL string `json:"authorizeUrl"`
}

type oauthFinishRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// tenantOrUnauthorized возвращает ключ установки из контекста.
// Пустой ключ означает, что маршрут зарегистрирован без JWT middleware.
func tenantOrUnauthorized(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == "" {
		apierrors.Unauthorized(w, "Ключ установки не определён")
		return "", false
	}
	return tenant, true
}

// StartOAuth — POST /api/v1/oauth/start.
func (h *APIHandler) StartOAuth(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOrUnauthorized(w, r)
	if !ok {
		return
	}
	url, err := h.svc.Connections.StartOAuth(r.Context(), tenant)
	if err != nil {
		h.writeServiceError(w, "Ошибка старта OAuth", err)
		return
	}
	writeJSON(w, http.StatusOK, oauthStartResponse{AuthorizeURL: url})
}

// FinishOAuth — POST /api/v1/oauth/finish.
// Обменивает code на токены и возвращает состояние подключения.
func (h *APIHandler) FinishOAuth(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req oauthFinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	status, err := h.svc.Connections.FinishOAuth(r.Context(), tenant, req.Code, req.State)
	if err != nil {
		h.writeServiceError(w, "Ошибка завершения OAuth", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Disconnect — POST /api/v1/connection/disconnect.
// Удаляет токены и сбрасывает кэш каталога свойств установки.
func (h *APIHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOrUnauthorized(w, r)
	if !ok {
		return
	}
	if err := h.svc.Connections.Disconnect(r.Context(), tenant); err != nil {
		h.writeServiceError(w, "Ошибка отключения установки", err)
		return
	}
	h.svc.Properties.Invalidate(tenant)

	status, err := h.svc.Connections.Status(r.Context(), tenant)
	if err != nil {
		h.writeServiceError(w, "Ошибка получения статуса подключения", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ConnectionStatus — GET /api/v1/connection/status.
func (h *APIHandler) ConnectionStatus(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOrUnauthorized(w, r)
	if !ok {
		return
	}
	status, err := h.svc.Connections.Status(r.Context(), tenant)
	if err != nil {
		h.writeServiceError(w, "Ошибка получения статуса подключения", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
