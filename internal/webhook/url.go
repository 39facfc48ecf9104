package webhook

import (
	"net/http"
	"strings"
)

// pathHeaders — заголовки обратного прокси с исходным путём запроса,
// в порядке приоритета.
var pathHeaders = []string{
	"X-Forwarded-Uri",
	"X-Original-URL",
	"X-Original-URI",
	"X-Rewrite-URL",
}

// ExternalURL восстанавливает URL запроса, видимый удалённой CRM.
// Сервис работает за обратным прокси, поэтому схема, хост и путь берутся
// из X-Forwarded-* (первое значение списка), а при их отсутствии —
// из самого запроса. Значения путей, не начинающиеся с "/", игнорируются.
func ExternalURL(r *http.Request) string {
	scheme := firstValue(r.Header.Get("X-Forwarded-Proto"))
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}

	host := firstValue(r.Header.Get("X-Forwarded-Host"))
	if host == "" {
		host = r.Host
	}

	path := ""
	for _, h := range pathHeaders {
		if v := firstValue(r.Header.Get(h)); strings.HasPrefix(v, "/") {
			path = v
			break
		}
	}
	if path == "" {
		path = r.URL.RequestURI()
	}

	return strings.ToLower(scheme) + "://" + host + path
}

// firstValue возвращает первый элемент списка через запятую.
func firstValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
