// mappings.go — обработчики /api/v1/mappings и /api/v1/remote/properties.
package handlers

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/crm-sync/internal/api/errors"
	"github.com/bigkaa/goartstore/crm-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/crm-sync/internal/remotecrm"
)

// fieldMapping — правило сопоставления в API.
type fieldMapping struct {
	ID             string `json:"id,omitempty"`
	LocalField     string `json:"localField"`
	RemoteProperty string `json:"remoteProperty"`
	Direction      string `json:"direction,omitempty"`
	Transform      string `json:"transform,omitempty"`
}

type mappingsBody struct {
	Mappings []fieldMapping `json:"mappings"`
}

type propertiesResponse struct {
	Results []remotecrm.Property `json:"results"`
}

func mapFieldMappings(in []model.FieldMapping) []fieldMapping {
	out := make([]fieldMapping, len(in))
	for i, m := range in {
		out[i] = fieldMapping{
			ID:             m.ID,
			LocalField:     m.LocalField,
			RemoteProperty: m.RemoteProperty,
			Direction:      string(m.Direction),
			Transform:      string(m.Transform),
		}
	}
	return out
}

// ListMappings — GET /api/v1/mappings.
func (h *APIHandler) ListMappings(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOrUnauthorized(w, r)
	if !ok {
		return
	}
	mappings, err := h.svc.Mappings.List(r.Context(), tenant)
	if err != nil {
		h.writeServiceError(w, "Ошибка получения правил сопоставления", err)
		return
	}
	writeJSON(w, http.StatusOK, mappingsBody{Mappings: mapFieldMappings(mappings)})
}

// ReplaceMappings — PUT /api/v1/mappings.
// Набор правил заменяется целиком; при ошибке валидации ничего не меняется.
func (h *APIHandler) ReplaceMappings(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req struct {
		Mappings *[]fieldMapping `json:"mappings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if req.Mappings == nil {
		apierrors.ValidationError(w, "Поле mappings обязательно")
		return
	}

	mappings := make([]model.FieldMapping, len(*req.Mappings))
	for i, m := range *req.Mappings {
		mappings[i] = model.FieldMapping{
			LocalField:     m.LocalField,
			RemoteProperty: m.RemoteProperty,
			Direction:      model.Direction(m.Direction),
			Transform:      model.Transform(m.Transform),
		}
	}

	saved, err := h.svc.Mappings.Replace(r.Context(), tenant, mappings)
	if err != nil {
		h.writeServiceError(w, "Ошибка сохранения правил сопоставления", err)
		return
	}
	writeJSON(w, http.StatusOK, mappingsBody{Mappings: mapFieldMappings(saved)})
}

// ListRemoteProperties — GET /api/v1/remote/properties.
// Неподключённая установка — 409 NOT_CONNECTED.
func (h *APIHandler) ListRemoteProperties(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOrUnauthorized(w, r)
	if !ok {
		return
	}
	props, err := h.svc.Properties.List(r.Context(), tenant)
	if err != nil {
		h.writeServiceError(w, "Ошибка получения каталога свойств", err)
		return
	}
	if props == nil {
		props = []remotecrm.Property{}
	}
	writeJSON(w, http.StatusOK, propertiesResponse{Results: props})
}
