// events.go — обработчик /api/v1/events (диагностический журнал событий).
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/bigkaa/goartstore/crm-sync/internal/api/errors"
	"github.com/bigkaa/goartstore/crm-sync/internal/domain/model"
)

type eventLogEntry struct {
	ID                string          `json:"id"`
	Source            string          `json:"source"`
	EventType         string          `json:"eventType"`
	ExternalAccountID *string         `json:"externalAccountId,omitempty"`
	ObjectID          *string         `json:"objectId,omitempty"`
	CorrelationID     *string         `json:"correlationId,omitempty"`
	Status            string          `json:"status"`
	ErrorCode         *string         `json:"errorCode,omitempty"`
	Message           *string         `json:"message,omitempty"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	ReceivedAt        string          `json:"receivedAt"`
}

type eventsResponse struct {
	Events []eventLogEntry `json:"events"`
}

// ListEvents — GET /api/v1/events?limit=N.
// limit 1..200, по умолчанию 50; записи от новых к старым.
func (h *APIHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOrUnauthorized(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			apierrors.ValidationError(w, "limit должен быть целым числом")
			return
		}
		limit = max(n, 1)
	}

	entries, err := h.svc.Events.ListRecent(r.Context(), tenant, limit)
	if err != nil {
		h.writeServiceError(w, "Ошибка чтения журнала событий", err)
		return
	}

	resp := eventsResponse{Events: make([]eventLogEntry, len(entries))}
	for i, e := range entries {
		resp.Events[i] = mapEventLogEntry(e)
	}
	writeJSON(w, http.StatusOK, resp)
}

func mapEventLogEntry(e model.EventLogEntry) eventLogEntry {
	return eventLogEntry{
		ID:                e.ID,
		Source:            e.Source,
		EventType:         e.EventType,
		ExternalAccountID: e.ExternalAccountID,
		ObjectID:          e.ObjectID,
		CorrelationID:     e.CorrelationID,
		Status:            e.Status,
		ErrorCode:         e.ErrorCode,
		Message:           e.Message,
		Payload:           e.Payload,
		ReceivedAt:        e.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
}
