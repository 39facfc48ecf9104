// local_events.go — события изменения контактов локальной CRM
// (POST /api/v1/local/contact-events).
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/crm-sync/internal/api/errors"
	"github.com/bigkaa/goartstore/crm-sync/internal/service"
)

// HandleLocalContactEvent — POST /api/v1/local/contact-events.
// Ошибка синхронизации возвращается как 500, чтобы локальная CRM
// повторила доставку события.
func (h *APIHandler) HandleLocalContactEvent(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOrUnauthorized(w, r)
	if !ok {
		return
	}

	var ev service.LocalContactEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	result, err := h.svc.LocalEvents.HandleContactEvent(r.Context(), tenant, ev)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			apierrors.ValidationError(w, err.Error())
			return
		}
		code := service.ErrorCode(err)
		h.logger.Error("Ошибка обработки события локальной CRM",
			slog.String("tenant_key", tenant),
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
		apierrors.WriteError(w, http.StatusInternalServerError, apiCode(code), "Синхронизация не выполнена")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
