package webhook

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

const testSecret = "client-secret"

// newSignedRequest создаёт запрос с корректной подписью v3.
func newSignedRequest(t *testing.T, body string, ts time.Time) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "http://sync.internal/webhooks/remote", strings.NewReader(body))
	r.Header.Set("X-Forwarded-Proto", "https")
	r.Header.Set("X-Forwarded-Host", "sync.example.com")
	tsRaw := strconv.FormatInt(ts.UnixMilli(), 10)
	sig := SignV3(testSecret, http.MethodPost, "https://sync.example.com/webhooks/remote", []byte(body), tsRaw)
	r.Header.Set(HeaderSignatureV3, sig)
	r.Header.Set(HeaderRequestTimestamp, tsRaw)
	return r
}

func TestVerify_V3Accepted(t *testing.T) {
	now := time.Now()
	body := `[{"eventId":1,"portalId":62515,"objectId":42,"subscriptionType":"contact.creation"}]`
	r := newSignedRequest(t, body, now.Add(-30*time.Second))

	res := Verify(r, []byte(body), testSecret, now)
	if !res.OK || res.Scheme != SchemeV3 {
		t.Fatalf("Verify() = %+v, ожидается успех v3", res)
	}

	// Побайтовый повтор в пределах окна принимается.
	res = Verify(r, []byte(body), testSecret, now.Add(time.Minute))
	if !res.OK {
		t.Errorf("повтор в пределах окна отклонён: %+v", res)
	}
}

func TestVerify_V3TimestampOutsideWindow(t *testing.T) {
	now := time.Now()
	body := `[]`
	r := newSignedRequest(t, body, now.Add(-6*time.Minute))

	res := Verify(r, []byte(body), testSecret, now)
	if res.OK || res.Reason != "timestamp outside window" {
		t.Errorf("Verify() = %+v, ожидается отказ timestamp outside window", res)
	}

	r = newSignedRequest(t, body, now.Add(6*time.Minute))
	if res := Verify(r, []byte(body), testSecret, now); res.Reason != ReasonTimestampOutside {
		t.Errorf("timestamp из будущего: %+v", res)
	}
}

func TestVerify_V3TamperedBody(t *testing.T) {
	now := time.Now()
	r := newSignedRequest(t, `[{"objectId":42}]`, now)

	res := Verify(r, []byte(`[{"objectId":43}]`), testSecret, now)
	if res.OK || res.Reason != "signature mismatch" {
		t.Errorf("Verify() = %+v, ожидается отказ signature mismatch", res)
	}
}

func TestVerify_V3InvalidTimestamp(t *testing.T) {
	now := time.Now()
	r := newSignedRequest(t, `[]`, now)
	r.Header.Set(HeaderRequestTimestamp, "yesterday")

	if res := Verify(r, []byte(`[]`), testSecret, now); res.Reason != ReasonInvalidTimestamp {
		t.Errorf("Verify() = %+v, ожидается %q", res, ReasonInvalidTimestamp)
	}
}

func TestVerify_V3MissingTimestamp(t *testing.T) {
	now := time.Now()
	r := newSignedRequest(t, `[]`, now)
	r.Header.Del(HeaderRequestTimestamp)

	if res := Verify(r, []byte(`[]`), testSecret, now); res.Reason != ReasonMissingHeaders {
		t.Errorf("Verify() = %+v, ожидается %q", res, ReasonMissingHeaders)
	}
}

func TestVerify_NoHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/remote", nil)
	if res := Verify(r, nil, testSecret, time.Now()); res.OK || res.Reason != ReasonMissingHeaders {
		t.Errorf("Verify() = %+v", res)
	}
}

func TestVerify_EmptySecretRejects(t *testing.T) {
	now := time.Now()
	r := newSignedRequest(t, `[]`, now)
	if res := Verify(r, []byte(`[]`), "", now); res.OK {
		t.Error("запрос принят без настроенного секрета")
	}
}

func TestVerify_V2(t *testing.T) {
	body := []byte(`[{"objectId":42}]`)
	r := httptest.NewRequest(http.MethodPost, "http://sync.example.com/webhooks/remote?x=1", nil)
	sig := SignV2(testSecret, http.MethodPost, "http://sync.example.com/webhooks/remote?x=1", body)

	r.Header.Set(HeaderSignature, strings.ToUpper(sig))
	r.Header.Set(HeaderSignatureVersion, "v2")
	if res := Verify(r, body, testSecret, time.Now()); !res.OK || res.Scheme != SchemeV2 {
		t.Errorf("Verify(v2, верхний регистр) = %+v, ожидается успех", res)
	}

	r.Header.Set(HeaderSignature, sig)
	if res := Verify(r, []byte(`[]`), testSecret, time.Now()); res.Reason != ReasonSignatureMismatch {
		t.Errorf("Verify(v2, подменённое тело) = %+v", res)
	}

	r.Header.Set(HeaderSignatureVersion, "v1")
	if res := Verify(r, body, testSecret, time.Now()); res.OK {
		t.Error("подпись неподдерживаемой версии принята")
	}
}

func TestDecodeURI(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://a.com/hook", "https://a.com/hook"},
		{"https://a.com/hook?email=a%40b.com", "https://a.com/hook?email=a@b.com"},
		{"https%3a%2f%2fa.com%2Fx%3Fq%3D1", "https://a.com/x?q%3D1"},
		{"%21%24%27%28%29%2A%2C%3B", "!$'()*,;"},
		{"%20%", "%20%"},
	}
	for _, tt := range tests {
		if got := DecodeURI(tt.in); got != tt.want {
			t.Errorf("DecodeURI(%q) = %q, ожидается %q", tt.in, got, tt.want)
		}
	}
}

func TestExternalURL(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		headers map[string]string
		tls     bool
		want    string
	}{
		{
			name:   "без прокси",
			target: "http://sync.internal:8080/webhooks/remote?a=1",
			want:   "http://sync.internal:8080/webhooks/remote?a=1",
		},
		{
			name:   "TLS без прокси",
			target: "https://sync.internal/webhooks/remote",
			tls:    true,
			want:   "https://sync.internal/webhooks/remote",
		},
		{
			name:   "цепочка прокси",
			target: "http://10.0.0.1/webhooks/remote",
			headers: map[string]string{
				"X-Forwarded-Proto": "https, http",
				"X-Forwarded-Host":  "sync.example.com, lb.internal",
				"X-Forwarded-Uri":   "/crm/webhooks/remote?src=hs",
			},
			want: "https://sync.example.com/crm/webhooks/remote?src=hs",
		},
		{
			name:   "путь из X-Original-URI",
			target: "http://10.0.0.1/webhooks/remote",
			headers: map[string]string{
				"X-Forwarded-Uri": "crm/relative",
				"X-Original-URI":  "/crm/webhooks/remote",
			},
			want: "http://10.0.0.1/crm/webhooks/remote",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, tt.target, nil)
			if !tt.tls {
				r.TLS = nil
			} else if r.TLS == nil {
				r.TLS = &tls.ConnectionState{}
			}
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ExternalURL(r); got != tt.want {
				t.Errorf("ExternalURL() = %q, ожидается %q", got, tt.want)
			}
		})
	}
}
