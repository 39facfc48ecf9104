// Пакет localcrm — HTTP-клиент к REST API контактов локальной CRM.
// Аутентификация — API-ключ приложения; установка указывается явно
// заголовком X-Tenant-Key в каждом запросе.
// Операции: GetContact, FindByEmail, CreateContact, UpdateContact.
package localcrm

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
	"strings"
	"time"

	"github.com/bigkaa/goartstore/crm-sync/internal/domain/mapping"
)

// HeaderTenantKey — заголовок с ключом установки.
const HeaderTenantKey = "X-Tenant-Key"

// APIError — не-2xx ответ локальной CRM.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: локальная CRM вернула статус %d: %s", e.Op, e.Status, e.Body)
}

// IsNotFound сообщает, что локальная CRM ответила 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Contact — контакт локальной CRM.
type Contact struct {
	ID        string     `json:"id"`
	Revision  int64      `json:"revision"`
	Email     string     `json:"email,omitempty"`
	FirstName string     `json:"firstName,omitempty"`
	LastName  string     `json:"lastName,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Fields возвращает значения полей контакта по ключам mapping.LocalFields.
// Пустые значения опускаются.
func (c *Contact) Fields() map[string]string {
	fields := make(map[string]string, 4)
	for k, v := range map[string]string{
		mapping.FieldEmail:     c.Email,
		mapping.FieldFirstName: c.FirstName,
		mapping.FieldLastName:  c.LastName,
		mapping.FieldPhone:     c.Phone,
	} {
		if v != "" {
			fields[k] = v
		}
	}
	return fields
}

// Client — HTTP-клиент локальной CRM.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент. httpClient может быть nil.
func New(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "local_crm_client")),
	}
}

// do выполняет запрос от имени установки и декодирует ответ в target.
func (c *Client) do(ctx context.Context, op, tenantKey, method, path string, body, target any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: сериализация тела запроса: %w", op, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("%s: создание запроса: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set(HeaderTenantKey, tenantKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: запрос к локальной CRM: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return &APIError{Op: op, Status: resp.StatusCode, Body: string(data)}
	}
	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("%s: декодирование ответа: %w", op, err)
		}
	}
	return nil
}

// GetContact возвращает контакт по идентификатору.
func (c *Client) GetContact(ctx context.Context, tenantKey, id string) (*Contact, error) {
	var contact Contact
	if err := c.do(ctx, "GetContact", tenantKey, http.MethodGet, "/v1/contacts/"+url.PathEscape(id), nil, &contact); err != nil {
		return nil, err
	}
	return &contact, nil
}

// FindByEmail ищет контакт по email. Возвращает nil, nil если не найден.
func (c *Client) FindByEmail(ctx context.Context, tenantKey, email string) (*Contact, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}

	body := map[string]any{
		"filter": map[string]string{"email": email},
		"limit":  1,
	}
	var result struct {
		Contacts []Contact `json:"contacts"`
	}
	if err := c.do(ctx, "FindByEmail", tenantKey, http.MethodPost, "/v1/contacts/query", body, &result); err != nil {
		return nil, err
	}
	if len(result.Contacts) == 0 {
		return nil, nil
	}
	return &result.Contacts[0], nil
}

// CreateContact создаёт контакт с указанными полями.
func (c *Client) CreateContact(ctx context.Context, tenantKey string, fields map[string]string) (*Contact, error) {
	var contact Contact
	body := map[string]any{"fields": fields}
	if err := c.do(ctx, "CreateContact", tenantKey, http.MethodPost, "/v1/contacts", body, &contact); err != nil {
		return nil, err
	}
	c.logger.Debug("Контакт создан в локальной CRM", slog.String("tenant_key", tenantKey), slog.String("local_id", contact.ID))
	return &contact, nil
}

// UpdateContact обновляет поля контакта. revision — ожидаемая ревизия;
// при расхождении локальная CRM отвечает 409.
func (c *Client) UpdateContact(ctx context.Context, tenantKey, id string, revision int64, fields map[string]string) (*Contact, error) {
	var contact Contact
	body := map[string]any{"revision": revision, "fields": fields}
	if err := c.do(ctx, "UpdateContact", tenantKey, http.MethodPatch, "/v1/contacts/"+url.PathEscape(id), body, &contact); err != nil {
		return nil, err
	}
	return &contact, nil
}
