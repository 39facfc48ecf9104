// Пакет payloadhash — канонический хэш значений полей контакта.
//
// Сериализация следует RFC 8785 для объекта строк: ключи упорядочены по
// кодовым единицам UTF-16, строки нормализованы в NFC, HTML-символы не
// экранируются, пробелы между токенами отсутствуют. Поэтому одинаковые
// значения дают одинаковый хэш независимо от стороны и порядка полей.
package payloadhash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// Canonical возвращает каноническую JSON-сериализацию набора полей.
func Canonical(fields map[string]string) []byte {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return lessUTF16(keys[i], keys[j])
	})

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(&buf, k)
		buf.WriteByte(':')
		writeString(&buf, fields[k])
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// Hash возвращает SHA-256 (hex) канонической сериализации.
func Hash(fields map[string]string) string {
	sum := sha256.Sum256(Canonical(fields))
	return hex.EncodeToString(sum[:])
}

// lessUTF16 сравнивает строки по кодовым единицам UTF-16 (RFC 8785 §3.2.3).
func lessUTF16(a, b string) bool {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}

// writeString пишет NFC-нормализованную JSON-строку без HTML-экранирования.
func writeString(buf *bytes.Buffer, s string) {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(norm.NFC.String(s)) // строка всегда сериализуема

	out := bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'})
	// encoding/json экранирует U+2028 и U+2029, RFC 8785 — нет.
	out = bytes.ReplaceAll(out, []byte(`\u2028`), []byte("\u2028"))
	out = bytes.ReplaceAll(out, []byte(`\u2029`), []byte("\u2029"))
	buf.Write(out)
}
