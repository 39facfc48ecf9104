package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/crm-sync/internal/oauth"
)

func newTestTokenManager(conns *fakeConnRepo, refresher *fakeRefresher, now time.Time) *TokenManager {
	m := NewTokenManager(conns, refresher, testLogger())
	m.now = func() time.Time { return now }
	return m
}

func TestTokenManager_ValidTokenWithoutRefresh(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	conns := newFakeConnRepo()
	conns.connect("t1", "1", now.Add(61*time.Second))
	refresher := &fakeRefresher{now: now}

	token, err := newTestTokenManager(conns, refresher, now).GetValidAccessToken(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetValidAccessToken() ошибка: %v", err)
	}
	if token != "access-0" {
		t.Errorf("token = %q, ожидается access-0", token)
	}
	if refresher.calls != 0 {
		t.Errorf("refresh вызван %d раз, ожидается 0", refresher.calls)
	}
}

func TestTokenManager_RefreshInsideSafetyWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	conns := newFakeConnRepo()
	conns.connect("t1", "1", now.Add(TokenSafetyWindow))
	refresher := &fakeRefresher{now: now, omitRefresh: true}

	token, err := newTestTokenManager(conns, refresher, now).GetValidAccessToken(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetValidAccessToken() ошибка: %v", err)
	}
	if token != "access-1" {
		t.Errorf("token = %q, ожидается access-1", token)
	}

	conn, _ := conns.Get(context.Background(), "t1")
	if conn.Tokens.AccessToken != "access-1" {
		t.Errorf("сохранён access token %q", conn.Tokens.AccessToken)
	}
	if conn.Tokens.RefreshToken != "refresh-0" {
		t.Errorf("refresh token = %q, прежний должен сохраниться", conn.Tokens.RefreshToken)
	}
	if !conn.Tokens.ExpiresAt.Equal(now.Add(30 * time.Minute)) {
		t.Errorf("ExpiresAt = %v", conn.Tokens.ExpiresAt)
	}
}

func TestTokenManager_RefreshFailure(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	conns := newFakeConnRepo()
	conns.connect("t1", "1", now.Add(-time.Minute))
	endpointErr := &oauth.EndpointError{Status: 400, Code: "invalid_grant", Body: `{"status":"BAD_REFRESH_TOKEN"}`}
	refresher := &fakeRefresher{now: now, err: endpointErr}

	token, err := newTestTokenManager(conns, refresher, now).GetValidAccessToken(context.Background(), "t1")
	if token != "" {
		t.Errorf("token = %q, устаревший токен не должен возвращаться", token)
	}
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("ошибка %v должна соответствовать ErrAuthFailed", err)
	}
	var target *oauth.EndpointError
	if !errors.As(err, &target) || target.Status != 400 {
		t.Errorf("исходная ошибка endpoint потеряна: %v", err)
	}

	conn, _ := conns.Get(context.Background(), "t1")
	if conn.LastErrorCode == nil || *conn.LastErrorCode != CodeAuthFailed {
		t.Errorf("LastErrorCode = %v, ожидается auth_failed", conn.LastErrorCode)
	}
}

func TestTokenManager_NotConnected(t *testing.T) {
	conns := newFakeConnRepo()
	m := newTestTokenManager(conns, &fakeRefresher{}, time.Now())

	if _, err := m.GetValidAccessToken(context.Background(), "missing"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("нет подключения: %v, ожидается ErrNotConnected", err)
	}

	conns.connect("t1", "1", time.Now().Add(time.Hour))
	_ = conns.Clear(context.Background(), "t1")
	if _, err := m.GetValidAccessToken(context.Background(), "t1"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("после disconnect: %v, ожидается ErrNotConnected", err)
	}
}

// Параллельные обновления без блокировок: каждый вызов получает
// пригодный токен, в хранилище остаётся один из выданных.
func TestTokenManager_ConcurrentRefresh(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	conns := newFakeConnRepo()
	conns.connect("t1", "1", now.Add(10*time.Second))
	refresher := &fakeRefresher{now: now, delay: 5 * time.Millisecond}
	m := newTestTokenManager(conns, refresher, now)

	const workers = 8
	var wg sync.WaitGroup
	tokens := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.GetValidAccessToken(context.Background(), "t1")
		}(i)
	}
	wg.Wait()

	issued := make(map[string]bool)
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("вызов %d: ошибка %v", i, errs[i])
		}
		if !strings.HasPrefix(tokens[i], "access-") || tokens[i] == "access-0" {
			t.Errorf("вызов %d: token = %q, ожидается обновлённый", i, tokens[i])
		}
		issued[tokens[i]] = true
	}

	conn, _ := conns.Get(context.Background(), "t1")
	if !issued[conn.Tokens.AccessToken] {
		t.Errorf("сохранённый токен %q не выдан ни одному вызову", conn.Tokens.AccessToken)
	}
	if conn.LastErrorCode != nil {
		t.Errorf("LastErrorCode = %v, ожидается nil", *conn.LastErrorCode)
	}
}
