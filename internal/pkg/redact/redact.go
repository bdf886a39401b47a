// Package redact маскирует чувствительные значения перед записью в логи.
package redact

import (
	"net/url"
	"strings"
)

// Email оставляет первые две руны локальной части и домен.
func Email(s string) string {
	parts := strings.Split(s, "@")
	if len(parts) != 2 {
		return "***"
	}

	local, domain := []rune(parts[0]), parts[1]
	if len(local) > 2 {
		return string(local[:2]) + "***@" + domain
	}

	return "***@" + domain
}

func Token() string    { return "[REDACTED_TOKEN]" }
func Password() string { return "[REDACTED_PASSWORD]" }

// URL заменяет значение query-параметра token (ссылки сброса пароля).
// Невалидный URL целиком заменяется на "***".
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}

	q := u.Query()
	if q.Has("token") {
		q.Set("token", Token())
		u.RawQuery = q.Encode()
	}

	return u.String()
}
