package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/crm-sync/internal/domain/model"
	"github.com/bigkaa/goartstore/crm-sync/internal/localcrm"
	"github.com/bigkaa/goartstore/crm-sync/internal/oauth"
	"github.com/bigkaa/goartstore/crm-sync/internal/remotecrm"
	"github.com/bigkaa/goartstore/crm-sync/internal/repository"
)

// testLogger создаёт logger для тестов (только ошибки).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Хранилища ---

type fakeConnRepo struct {
	mu           sync.Mutex
	conns        map[string]*model.Connection
	lastErrCodes []string
}

func newFakeConnRepo() *fakeConnRepo {
	return &fakeConnRepo{conns: make(map[string]*model.Connection)}
}

// connect добавляет подключённую установку с токеном до expiresAt.
func (r *fakeConnRepo) connect(tenantKey, accountID string, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[tenantKey] = &model.Connection{
		TenantKey:       tenantKey,
		RemoteAccountID: &accountID,
		Scopes:          []string{"crm.objects.contacts.read"},
		Tokens: &model.TokenSet{
			AccessToken:  "access-0",
			RefreshToken: "refresh-0",
			ExpiresAt:    expiresAt,
		},
	}
}

func (r *fakeConnRepo) Get(_ context.Context, tenantKey string) (*model.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[tenantKey]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	if c.Tokens != nil {
		tokens := *c.Tokens
		cp.Tokens = &tokens
	}
	return &cp, nil
}

func (r *fakeConnRepo) GetByRemoteAccountID(ctx context.Context, remoteAccountID string) (*model.Connection, error) {
	r.mu.Lock()
	var tenant string
	for k, c := range r.conns {
		if c.RemoteAccountID != nil && *c.RemoteAccountID == remoteAccountID {
			tenant = k
		}
	}
	r.mu.Unlock()
	if tenant == "" {
		return nil, repository.ErrNotFound
	}
	return r.Get(ctx, tenant)
}

func (r *fakeConnRepo) Upsert(_ context.Context, conn *model.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *conn
	r.conns[conn.TenantKey] = &cp
	return nil
}

func (r *fakeConnRepo) UpdateTokens(_ context.Context, tenantKey string, tokens model.TokenSet, scopes []string, remoteAccountID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[tenantKey]
	if !ok {
		return repository.ErrNotFound
	}
	c.Tokens = &tokens
	if len(scopes) > 0 {
		c.Scopes = scopes
	}
	if remoteAccountID != nil {
		c.RemoteAccountID = remoteAccountID
	}
	c.LastErrorCode = nil
	c.LastErrorAt = nil
	return nil
}

func (r *fakeConnRepo) SetLastError(_ context.Context, tenantKey, code string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[tenantKey]
	if !ok {
		return repository.ErrNotFound
	}
	c.LastErrorCode = &code
	c.LastErrorAt = &at
	r.lastErrCodes = append(r.lastErrCodes, code)
	return nil
}

func (r *fakeConnRepo) Clear(_ context.Context, tenantKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[tenantKey]
	if !ok {
		return repository.ErrNotFound
	}
	c.Tokens = nil
	return nil
}

type fakeMappingRepo struct {
	mappings     map[string][]model.FieldMapping
	replaceCalls int
}

func newFakeMappingRepo() *fakeMappingRepo {
	return &fakeMappingRepo{mappings: make(map[string][]model.FieldMapping)}
}

func (r *fakeMappingRepo) ListByTenant(_ context.Context, tenantKey string) ([]model.FieldMapping, error) {
	return append([]model.FieldMapping(nil), r.mappings[tenantKey]...), nil
}

func (r *fakeMappingRepo) ReplaceAll(_ context.Context, tenantKey string, mappings []model.FieldMapping) ([]model.FieldMapping, error) {
	r.replaceCalls++
	saved := make([]model.FieldMapping, len(mappings))
	for i, m := range mappings {
		m.ID = fmt.Sprintf("m-%d", i+1)
		m.TenantKey = tenantKey
		saved[i] = m
	}
	r.mappings[tenantKey] = saved
	return saved, nil
}

// fakeStore — identity map + журнал синхронизации + SyncCommitter.
type fakeStore struct {
	mu      sync.Mutex
	links   map[string]model.ContactLink
	entries []model.LedgerEntry
	commits int
}

func newFakeStore() *fakeStore {
	return &fakeStore{links: make(map[string]model.ContactLink)}
}

func (s *fakeStore) GetByLocalID(_ context.Context, tenantKey, localID string) (*model.ContactLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[tenantKey+"|"+localID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &l, nil
}

func (s *fakeStore) GetByRemoteID(_ context.Context, tenantKey, remoteID string) (*model.ContactLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.links {
		if l.TenantKey == tenantKey && l.RemoteID == remoteID {
			return &l, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *fakeStore) Upsert(_ context.Context, link *model.ContactLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, l := range s.links {
		if l.TenantKey == link.TenantKey && l.RemoteID == link.RemoteID && l.LocalID != link.LocalID {
			delete(s.links, k)
		}
	}
	s.links[link.TenantKey+"|"+link.LocalID] = *link
	return nil
}

func (s *fakeStore) Insert(_ context.Context, e *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *e)
	return nil
}

func (s *fakeStore) QueryRecent(_ context.Context, q model.LedgerQuery) ([]model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []model.LedgerEntry
	for _, e := range s.entries {
		if e.TenantKey != q.TenantKey || e.EntityType != q.EntityType || e.Source != q.Source || e.PayloadHash != q.PayloadHash {
			continue
		}
		if q.LocalID != "" && (e.LocalID == nil || *e.LocalID != q.LocalID) {
			continue
		}
		if q.RemoteID != "" && (e.RemoteID == nil || *e.RemoteID != q.RemoteID) {
			continue
		}
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *fakeStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	var deleted int64
	for _, e := range s.entries {
		if !e.ExpiresAt.After(before) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return deleted, nil
}

func (s *fakeStore) Commit(ctx context.Context, link *model.ContactLink, entry *model.LedgerEntry) error {
	if link != nil {
		if err := s.Upsert(ctx, link); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.commits++
	s.mu.Unlock()
	return s.Insert(ctx, entry)
}

type fakeEventRepo struct {
	mu      sync.Mutex
	entries []model.EventLogEntry
	err     error
}

func (r *fakeEventRepo) Insert(_ context.Context, e *model.EventLogEntry) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *e)
	return nil
}

func (r *fakeEventRepo) ListRecent(_ context.Context, tenantKey string, limit int) ([]model.EventLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []model.EventLogEntry
	for i := len(r.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := r.entries[i]
		if e.TenantKey != nil && *e.TenantKey == tenantKey {
			result = append(result, e)
		}
	}
	return result, nil
}

// --- Удалённая CRM ---

type fakeRemote struct {
	mu       sync.Mutex
	contacts map[string]*remotecrm.Contact
	nextID   int
	writes   int
	getErr   error
	// failIDs — GetContact для этих id возвращает ошибку 500
	failIDs map[string]bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{contacts: make(map[string]*remotecrm.Contact), nextID: 100, failIDs: map[string]bool{}}
}

func (r *fakeRemote) put(id string, props map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contacts[id] = &remotecrm.Contact{ID: id, Properties: props}
}

func (r *fakeRemote) GetContact(_ context.Context, _, id string, _ []string) (*remotecrm.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	if r.failIDs[id] {
		return nil, &remotecrm.APIError{Op: "GetContact", Status: 500, Body: "boom"}
	}
	c, ok := r.contacts[id]
	if !ok {
		return nil, &remotecrm.APIError{Op: "GetContact", Status: 404}
	}
	return copyRemote(c), nil
}

func (r *fakeRemote) SearchByEmail(_ context.Context, _, email string, _ []string) (*remotecrm.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contacts {
		if strings.EqualFold(c.Properties["email"], strings.TrimSpace(email)) {
			return copyRemote(c), nil
		}
	}
	return nil, nil
}

func (r *fakeRemote) CreateContact(_ context.Context, _ string, props map[string]string) (*remotecrm.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.writes++
	c := &remotecrm.Contact{ID: fmt.Sprintf("R%d", r.nextID), Properties: copyMap(props)}
	r.contacts[c.ID] = c
	return copyRemote(c), nil
}

func (r *fakeRemote) UpdateContact(_ context.Context, _, id string, props map[string]string) (*remotecrm.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok {
		return nil, &remotecrm.APIError{Op: "UpdateContact", Status: 404}
	}
	r.writes++
	for k, v := range props {
		c.Properties[k] = v
	}
	return copyRemote(c), nil
}

func (r *fakeRemote) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func copyRemote(c *remotecrm.Contact) *remotecrm.Contact {
	return &remotecrm.Contact{ID: c.ID, Properties: copyMap(c.Properties)}
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// --- Локальная CRM ---

type fakeLocal struct {
	mu       sync.Mutex
	contacts map[string]*localcrm.Contact
	nextID   int
	writes   int
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{contacts: make(map[string]*localcrm.Contact)}
}

func (l *fakeLocal) put(c localcrm.Contact) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.contacts[c.ID] = &c
}

func (l *fakeLocal) GetContact(_ context.Context, _, id string) (*localcrm.Contact, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.contacts[id]
	if !ok {
		return nil, &localcrm.APIError{Op: "GetContact", Status: 404}
	}
	cp := *c
	return &cp, nil
}

func (l *fakeLocal) FindByEmail(_ context.Context, _, email string) (*localcrm.Contact, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.contacts {
		if strings.EqualFold(c.Email, email) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (l *fakeLocal) CreateContact(_ context.Context, _ string, fields map[string]string) (*localcrm.Contact, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	l.writes++
	c := &localcrm.Contact{ID: fmt.Sprintf("L%d", l.nextID), Revision: 1}
	applyLocalFields(c, fields)
	l.contacts[c.ID] = c
	cp := *c
	return &cp, nil
}

func (l *fakeLocal) UpdateContact(_ context.Context, _, id string, revision int64, fields map[string]string) (*localcrm.Contact, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.contacts[id]
	if !ok {
		return nil, &localcrm.APIError{Op: "UpdateContact", Status: 404}
	}
	if c.Revision != revision {
		return nil, &localcrm.APIError{Op: "UpdateContact", Status: 409}
	}
	l.writes++
	c.Revision++
	applyLocalFields(c, fields)
	cp := *c
	return &cp, nil
}

func (l *fakeLocal) writeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writes
}

func applyLocalFields(c *localcrm.Contact, fields map[string]string) {
	for k, v := range fields {
		switch k {
		case "email":
			c.Email = v
		case "firstName":
			c.FirstName = v
		case "lastName":
			c.LastName = v
		case "phone":
			c.Phone = v
		}
	}
}

// --- OAuth ---

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	err   error
	// omitRefresh — не возвращать новый refresh token
	omitRefresh bool
	delay       time.Duration
	now         time.Time
}

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken string) (*oauth.Token, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	tok := &oauth.Token{
		AccessToken: fmt.Sprintf("access-%d", f.calls),
		ExpiresAt:   f.now.Add(30 * time.Minute),
	}
	if !f.omitRefresh {
		tok.RefreshToken = fmt.Sprintf("refresh-%d", f.calls)
	}
	return tok, nil
}
