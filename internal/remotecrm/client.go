// client.go — HTTP-клиент к REST API контактов удалённой CRM.
// Каждый вызов получает tenant key явно и берёт актуальный access token
// у TokenProvider; клиент не кэширует токены.
// Операции: GetContact, SearchByEmail, CreateContact, UpdateContact, ListProperties.
package remotecrm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// maxErrorBody — максимальная длина тела ответа в APIError.
const maxErrorBody = 500

// PropertyLastModified — свойство с временем последнего изменения контакта.
const PropertyLastModified = "lastmodifieddate"

// TokenProvider выдаёт действующий access token установки.
type TokenProvider interface {
	GetValidAccessToken(ctx context.Context, tenantKey string) (string, error)
}

// APIError — не-2xx ответ удалённой CRM.
type APIError struct {
	Op     string
	Status int
	// Body — тело ответа, усечённое до 500 символов.
	Body string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: удалённая CRM вернула статус %d: %s", e.Op, e.Status, e.Body)
}

// IsNotFound сообщает, что удалённая CRM ответила 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Contact — контакт удалённой CRM. Свойства со значением null опускаются.
type Contact struct {
	ID         string
	Properties map[string]string
}

// LastModified возвращает lastmodifieddate контакта, если он есть и разбирается.
// Поддерживаются ISO 8601 и миллисекунды Unix.
func (c *Contact) LastModified() (time.Time, bool) {
	raw := strings.TrimSpace(c.Properties[PropertyLastModified])
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, true
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}
	return time.Time{}, false
}

// Property — описание свойства контакта.
type Property struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	Type      string `json:"type"`
	FieldType string `json:"fieldType"`
	GroupName string `json:"groupName"`
	Hidden    bool   `json:"hidden"`
	ReadOnly  bool   `json:"readOnlyValue"`
}

// contactDTO — контакт в формате API (значения свойств могут быть null).
type contactDTO struct {
	ID         string             `json:"id"`
	Properties map[string]*string `json:"properties"`
}

func (d contactDTO) toContact() *Contact {
	c := &Contact{ID: d.ID, Properties: make(map[string]string, len(d.Properties))}
	for k, v := range d.Properties {
		if v != nil {
			c.Properties[k] = *v
		}
	}
	return c
}

// Client — HTTP-клиент к REST API удалённой CRM.
type Client struct {
	baseURL    string
	tokens     TokenProvider
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент.
// baseURL — базовый URL API (например, https://api.hubapi.com).
// httpClient — HTTP-клиент (nil — клиент с таймаутом 30s).
func New(baseURL string, tokens TokenProvider, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "remote_crm_client")),
	}
}

// --- HTTP helpers ---

// doAuthorized выполняет запрос с Bearer-токеном установки.
func (c *Client) doAuthorized(ctx context.Context, tenantKey, method, path string, body any) (*http.Response, error) {
	token, err := c.tokens.GetValidAccessToken(ctx, tenantKey)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("сериализация тела запроса: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос к удалённой CRM %s %s: %w", method, path, err)
	}
	return resp, nil
}

// decodeResponse декодирует JSON-ответ в target или возвращает APIError.
func decodeResponse(op string, resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return &APIError{Op: op, Status: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("%s: декодирование ответа: %w", op, err)
		}
	}
	return nil
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

// --- Contacts API ---

// GetContact возвращает контакт с указанными свойствами.
func (c *Client) GetContact(ctx context.Context, tenantKey, id string, properties []string) (*Contact, error) {
	path := "/crm/v3/objects/contacts/" + url.PathEscape(id)
	if len(properties) > 0 {
		path += "?properties=" + url.QueryEscape(strings.Join(properties, ","))
	}

	resp, err := c.doAuthorized(ctx, tenantKey, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var dto contactDTO
	if err := decodeResponse("GetContact", resp, &dto); err != nil {
		return nil, err
	}
	return dto.toContact(), nil
}

// searchRequest — тело поиска контактов.
type searchRequest struct {
	FilterGroups []filterGroup `json:"filterGroups"`
	Properties   []string      `json:"properties,omitempty"`
	Limit        int           `json:"limit"`
}

type filterGroup struct {
	Filters []filter `json:"filters"`
}

type filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

// SearchByEmail ищет контакт по email. Возвращает nil, nil если не найден.
func (c *Client) SearchByEmail(ctx context.Context, tenantKey, email string, properties []string) (*Contact, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}

	body := searchRequest{
		FilterGroups: []filterGroup{{Filters: []filter{{
			PropertyName: "email",
			Operator:     "EQ",
			Value:        email,
		}}}},
		Properties: properties,
		Limit:      1,
	}

	resp, err := c.doAuthorized(ctx, tenantKey, http.MethodPost, "/crm/v3/objects/contacts/search", body)
	if err != nil {
		return nil, err
	}

	var result struct {
		Total   int          `json:"total"`
		Results []contactDTO `json:"results"`
	}
	if err := decodeResponse("SearchByEmail", resp, &result); err != nil {
		return nil, err
	}
	if len(result.Results) == 0 {
		return nil, nil
	}
	return result.Results[0].toContact(), nil
}

// propertiesBody — тело создания/обновления контакта.
type propertiesBody struct {
	Properties map[string]string `json:"properties"`
}

// CreateContact создаёт контакт.
func (c *Client) CreateContact(ctx context.Context, tenantKey string, properties map[string]string) (*Contact, error) {
	resp, err := c.doAuthorized(ctx, tenantKey, http.MethodPost, "/crm/v3/objects/contacts", propertiesBody{Properties: properties})
	if err != nil {
		return nil, err
	}

	var dto contactDTO
	if err := decodeResponse("CreateContact", resp, &dto); err != nil {
		return nil, err
	}
	c.logger.Debug("Контакт создан в удалённой CRM", slog.String("tenant_key", tenantKey), slog.String("remote_id", dto.ID))
	return dto.toContact(), nil
}

// UpdateContact обновляет свойства контакта.
func (c *Client) UpdateContact(ctx context.Context, tenantKey, id string, properties map[string]string) (*Contact, error) {
	path := "/crm/v3/objects/contacts/" + url.PathEscape(id)
	resp, err := c.doAuthorized(ctx, tenantKey, http.MethodPatch, path, propertiesBody{Properties: properties})
	if err != nil {
		return nil, err
	}

	var dto contactDTO
	if err := decodeResponse("UpdateContact", resp, &dto); err != nil {
		return nil, err
	}
	return dto.toContact(), nil
}

// --- Properties API ---

// ListProperties возвращает неархивные и не скрытые свойства контактов,
// отсортированные по label.
func (c *Client) ListProperties(ctx context.Context, tenantKey string) ([]Property, error) {
	resp, err := c.doAuthorized(ctx, tenantKey, http.MethodGet, "/crm/v3/properties/contacts?archived=false", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Results []Property `json:"results"`
	}
	if err := decodeResponse("ListProperties", resp, &result); err != nil {
		return nil, err
	}

	props := make([]Property, 0, len(result.Results))
	for _, p := range result.Results {
		if !p.Hidden {
			props = append(props, p)
		}
	}
	sortProperties(props)
	return props, nil
}

func sortProperties(props []Property) {
	sort.SliceStable(props, func(i, j int) bool {
		return strings.ToLower(props[i].Label) < strings.ToLower(props[j].Label)
	})
}
