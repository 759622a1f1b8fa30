// redact предоставляет утилиты безопасного редактирования чувствительных
// данных для логов (e-mail, токены, пароли, IP-адреса). Цель — исключить
// утечки секретов и персональных данных, сохранив полезный для отладки
// контекст (домен e-mail, подсеть клиента).
package redact

import (
	"net/netip"
	"strings"
)

// Email маскирует e-mail для логирования.
//
// Правила:
//   - Строка должна содержать РОВНО один символ '@', иначе возвращается "***";
//   - Локальная часть (до '@') заменяется на первые два символа (по рунам) + "***";
//   - Если длина локальной части ≤ 2 символов — возвращается "***@<domain>";
//   - Доменная часть возвращается без изменений (сохраняется регистр/содержимое).
//
// Примеры:
//
//	"foobar@example.com"   -> "fo***@example.com"
//	"ab@ex.com"            -> "***@ex.com"
//	"user@"                -> "us***@"
//	"no-at"                -> "***"
//	"abc.def+tag@EXAMPLE"  -> "ab***@EXAMPLE"
func Email(s string) string {
	// ровно один '@' — иначе считаем e-mail невалидным и редактируем полностью.
	if strings.Count(s, "@") != 1 {
		return "***"
	}

	i := strings.IndexByte(s, '@')
	local, domain := s[:i], s[i+1:]

	lr := []rune(local)
	if len(lr) > 2 {
		local = string(lr[:2]) + "***"
	} else {
		local = "***"
	}

	return local + "@" + domain
}

// IP маскирует клиентский адрес для логирования: у IPv4 скрывается последний
// октет, у IPv6 — всё после первых двух групп. Невалидный адрес возвращается
// как "***".
//
// Примеры:
//
//	"203.0.113.17" -> "203.0.113.*"
//	"2001:db8::1"  -> "2001:db8:*"
//	"garbage"      -> "***"
func IP(s string) string {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "***"
	}

	if addr.Is4() || addr.Is4In6() {
		str := addr.Unmap().String()
		if i := strings.LastIndexByte(str, '.'); i >= 0 {
			return str[:i] + ".*"
		}
		return "***"
	}

	parts := strings.Split(addr.String(), ":")
	if len(parts) < 2 {
		return "***"
	}

	return parts[0] + ":" + parts[1] + ":*"
}

// Token возвращает литерал-заглушку для токена в логах.
func Token() string { return "[REDACTED_TOKEN]" }

// Password возвращает литерал-заглушку для пароля в логах.
func Password() string { return "[REDACTED_PASSWORD]" }
