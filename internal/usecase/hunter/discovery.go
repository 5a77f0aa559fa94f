package hunter

import (
	"regexp"
	"strings"
)

var tmeLinkRe = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?(?:t\.me|telegram\.me)/(joinchat/[A-Za-z0-9_\-]+|\+[A-Za-z0-9_\-]+|[A-Za-z][A-Za-z0-9_]{3,31})`)

// служебные пути t.me, которые не ведут в чат.
var reservedPaths = map[string]bool{
	"c": true, "s": true, "share": true, "addstickers": true, "addemoji": true,
	"proxy": true, "socks": true, "iv": true, "setlanguage": true, "login": true,
}

// NormalizeLink приводит ссылку или @имя к виду https://t.me/<путь>. Пустая строка означает, что ссылка не ведёт в чат.
func NormalizeLink(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "@") {
		raw = "t.me/" + strings.TrimPrefix(raw, "@")
	}
	m := tmeLinkRe.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	path := m[1]
	if strings.HasPrefix(strings.ToLower(path), "joinchat/") {
		path = "+" + path[len("joinchat/"):]
	}
	if !strings.HasPrefix(path, "+") {
		if reservedPaths[strings.ToLower(path)] {
			return ""
		}
		path = strings.ToLower(path)
	}
	return "https://t.me/" + path
}

// ExtractLinks находит ссылки на чаты в тексте без повторов, в порядке появления.
func ExtractLinks(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, raw := range tmeLinkRe.FindAllString(text, -1) {
		link := NormalizeLink(raw)
		if link == "" || seen[link] {
			continue
		}
		seen[link] = true
		out = append(out, link)
	}
	return out
}
