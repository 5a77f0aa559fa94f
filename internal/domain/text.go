package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

func normalizeCommand(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// NormalizeBody приводит текст к каноничному виду для дедупликации:
// нижний регистр, без пунктуации и лишних пробелов.
func NormalizeBody(body string) string {
	var b strings.Builder
	b.Grow(len(body))
	space := false
	for _, r := range strings.ToLower(body) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

// ContentHash стабильный дайджест нормализованного текста.
func ContentHash(body string) string {
	sum := sha256.Sum256([]byte(NormalizeBody(body)))
	return hex.EncodeToString(sum[:])
}

// ParsePhone приводит телефон к виду +<цифры>. Допускаются пробелы, дефисы, скобки и ведущая 8 для России.
func ParsePhone(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	var digits strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", false
		}
	}
	d := digits.String()
	if len(d) < 10 || len(d) > 15 {
		return "", false
	}
	if len(d) == 11 && d[0] == '8' {
		d = "7" + d[1:]
	}
	if len(d) == 10 {
		d = "7" + d
	}
	return "+" + d, true
}
