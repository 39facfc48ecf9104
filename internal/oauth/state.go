// Пакет oauth — OAuth2-взаимодействие с удалённой CRM:
// подписанный state для authorization code flow и клиент token endpoint.
package oauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StateTTL — время жизни state с момента выпуска.
const StateTTL = 10 * time.Minute

// StateClockSkew — допустимое расхождение часов: state, выпущенный
// дальше в будущем, отклоняется как повреждённый.
const StateClockSkew = time.Minute

// Ошибки проверки state.
var (
	// ErrInvalidState — state повреждён или подпись не совпадает.
	ErrInvalidState = errors.New("некорректный state")
	// ErrStateExpired — state старше StateTTL.
	ErrStateExpired = errors.New("срок действия state истёк")
	// ErrTenantMismatch — state выпущен для другой установки.
	ErrTenantMismatch = errors.New("state выпущен для другой установки")
)

// StatePayload — содержимое state.
type StatePayload struct {
	TenantKey  string `json:"tenantKey"`
	Nonce      string `json:"nonce"`
	IssuedAtMs int64  `json:"issuedAtMs"`
}

// IssueState выпускает state: base64url(JSON) + "." + base64url(HMAC-SHA256(secret, base64url(JSON))).
func IssueState(secret, tenantKey string, now time.Time) (string, error) {
	payload, err := json.Marshal(StatePayload{
		TenantKey:  tenantKey,
		Nonce:      uuid.NewString(),
		IssuedAtMs: now.UnixMilli(),
	})
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + signState(secret, encoded), nil
}

// VerifyState проверяет подпись, срок жизни и принадлежность state установке.
func VerifyState(secret, state, tenantKey string, now time.Time) (*StatePayload, error) {
	encoded, sig, ok := strings.Cut(state, ".")
	if !ok || encoded == "" || sig == "" {
		return nil, ErrInvalidState
	}

	expected := signState(secret, encoded)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return nil, ErrInvalidState
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidState
	}
	var payload StatePayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.TenantKey == "" || payload.IssuedAtMs == 0 {
		return nil, ErrInvalidState
	}

	age := now.Sub(time.UnixMilli(payload.IssuedAtMs))
	if age < -StateClockSkew {
		return nil, ErrInvalidState
	}
	if age > StateTTL {
		return nil, ErrStateExpired
	}
	if payload.TenantKey != tenantKey {
		return nil, ErrTenantMismatch
	}
	return &payload, nil
}

func signState(secret, encoded string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
