// webhook.go — приём webhook удалённой CRM (POST /webhooks/remote).
// Маршрут публичный: аутентификация выполняется проверкой подписи.
package handlers

import (
	"errors"
	"io"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/crm-sync/internal/api/errors"
	"github.com/bigkaa/goartstore/crm-sync/internal/service"
)

// maxWebhookBody — максимальный размер тела webhook.
const maxWebhookBody = 1 << 20

// ReceiveRemoteWebhook — POST /webhooks/remote.
// Неверная подпись — 401, неразбираемое тело — 400, иначе 200 с итогами
// обработки по каждому событию.
func (h *APIHandler) ReceiveRemoteWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.WriteError(w, http.StatusRequestEntityTooLarge, apierrors.CodeMalformedPayload, "Тело webhook превышает допустимый размер")
			return
		}
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.CodeMalformedPayload, "Не удалось прочитать тело запроса")
		return
	}

	if err := h.svc.Webhooks.Verify(r, body); err != nil {
		apierrors.WriteError(w, http.StatusUnauthorized, apierrors.CodeInvalidWebhookSignature, "Подпись webhook не прошла проверку")
		return
	}

	summary, err := h.svc.Webhooks.Ingest(r.Context(), body)
	if err != nil {
		if errors.Is(err, service.ErrMalformedPayload) {
			apierrors.WriteError(w, http.StatusBadRequest, apierrors.CodeMalformedPayload, err.Error())
			return
		}
		h.writeServiceError(w, "Ошибка обработки webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
