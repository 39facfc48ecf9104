// Пакет webhook — аутентификация и разбор webhook удалённой CRM.
//
// Поддерживаются две схемы подписи, поскольку удалённая CRM в переходный
// период может присылать любую из них:
//   - v3: base64(HMAC-SHA256(secret, method + decodedURI + body + timestamp)),
//     заголовки X-HubSpot-Signature-V3 и X-HubSpot-Request-Timestamp (мс);
//   - v2: hex(SHA-256(secret + method + URL + body)), заголовок X-HubSpot-Signature.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Заголовки подписи.
const (
	HeaderSignatureV3      = "X-HubSpot-Signature-V3"
	HeaderRequestTimestamp = "X-HubSpot-Request-Timestamp"
	HeaderSignature        = "X-HubSpot-Signature"
	HeaderSignatureVersion = "X-HubSpot-Signature-Version"
)

// MaxTimestampSkew — допустимое отклонение timestamp схемы v3 от текущего времени.
const MaxTimestampSkew = 5 * time.Minute

// Причины отклонения.
const (
	ReasonMissingHeaders    = "missing signature headers"
	ReasonInvalidTimestamp  = "invalid timestamp"
	ReasonTimestampOutside  = "timestamp outside window"
	ReasonSignatureMismatch = "signature mismatch"
	ReasonMissingSecret     = "signing secret not configured"
)

// Scheme — схема подписи запроса.
type Scheme string

const (
	SchemeNone Scheme = ""
	SchemeV3   Scheme = "v3"
	SchemeV2   Scheme = "v2"
)

// Result — итог проверки подписи. Вычисленные и полученные подписи
// в результат не попадают.
type Result struct {
	OK     bool
	Scheme Scheme
	Reason string
}

func accept(s Scheme) Result { return Result{OK: true, Scheme: s} }
func reject(s Scheme, reason string) Result { return Result{Scheme: s, Reason: reason} }

// uriDecodeTable — последовательности, которые удалённая CRM раскодирует
// перед вычислением подписи v3.
var uriDecodeTable = []struct{ encoded, decoded string }{
	{"%3A", ":"}, {"%2F", "/"}, {"%3F", "?"}, {"%40", "@"},
	{"%21", "!"}, {"%24", "$"}, {"%27", "'"}, {"%28", "("},
	{"%29", ")"}, {"%2A", "*"}, {"%2C", ","}, {"%3B", ";"},
}

// DecodeURI применяет таблицу раскодирования схемы v3 (без учёта регистра hex).
// Остальные percent-последовательности не трогаются.
func DecodeURI(uri string) string {
	if !strings.Contains(uri, "%") {
		return uri
	}
	var b strings.Builder
	b.Grow(len(uri))
	for i := 0; i < len(uri); i++ {
		if uri[i] == '%' && i+2 < len(uri) {
			seq := strings.ToUpper(uri[i : i+3])
			if dec, ok := lookupDecoded(seq); ok {
				b.WriteString(dec)
				i += 2
				continue
			}
		}
		b.WriteByte(uri[i])
	}
	return b.String()
}

func lookupDecoded(seq string) (string, bool) {
	for _, e := range uriDecodeTable {
		if e.encoded == seq {
			return e.decoded, true
		}
	}
	return "", false
}

// VerifyV3 проверяет подпись схемы v3.
// uri — внешний URL запроса (см. ExternalURL), timestamp — сырое значение заголовка.
func VerifyV3(secret, method, uri string, body []byte, signature, timestamp string, now time.Time) Result {
	if signature == "" || timestamp == "" {
		return reject(SchemeV3, ReasonMissingHeaders)
	}
	if secret == "" {
		return reject(SchemeV3, ReasonMissingSecret)
	}

	tsMillis, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return reject(SchemeV3, ReasonInvalidTimestamp)
	}
	skew := now.Sub(time.UnixMilli(tsMillis))
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxTimestampSkew {
		return reject(SchemeV3, ReasonTimestampOutside)
	}

	expected := SignV3(secret, method, uri, body, timestamp)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return reject(SchemeV3, ReasonSignatureMismatch)
	}
	return accept(SchemeV3)
}

// SignV3 вычисляет подпись схемы v3.
func SignV3(secret, method, uri string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(method))
	mac.Write([]byte(DecodeURI(uri)))
	mac.Write(body)
	mac.Write([]byte(timestamp))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyV2 проверяет подпись схемы v2 (без timestamp, сравнение без учёта регистра).
func VerifyV2(secret, method, fullURL string, body []byte, signature string) Result {
	if signature == "" {
		return reject(SchemeV2, ReasonMissingHeaders)
	}
	if secret == "" {
		return reject(SchemeV2, ReasonMissingSecret)
	}

	expected := SignV2(secret, method, fullURL, body)
	got := strings.ToLower(strings.TrimSpace(signature))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
		return reject(SchemeV2, ReasonSignatureMismatch)
	}
	return accept(SchemeV2)
}

// SignV2 вычисляет подпись схемы v2 (hex в нижнем регистре).
func SignV2(secret, method, fullURL string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(secret))
	h.Write([]byte(method))
	h.Write([]byte(fullURL))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify выбирает схему по заголовкам запроса и проверяет подпись.
// body — сырое тело запроса, прочитанное до разбора JSON.
func Verify(r *http.Request, body []byte, secret string, now time.Time) Result {
	if sig := r.Header.Get(HeaderSignatureV3); sig != "" {
		return VerifyV3(secret, r.Method, ExternalURL(r), body, sig, r.Header.Get(HeaderRequestTimestamp), now)
	}
	if sig := r.Header.Get(HeaderSignature); sig != "" {
		version := strings.ToLower(r.Header.Get(HeaderSignatureVersion))
		if version != "" && version != "v2" {
			return reject(SchemeNone, ReasonMissingHeaders)
		}
		return VerifyV2(secret, r.Method, ExternalURL(r), body, sig)
	}
	return reject(SchemeNone, ReasonMissingHeaders)
}
