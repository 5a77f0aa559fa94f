package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitRunes(t *testing.T) {
	cases := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{"пусто", " \n\t ", 10, nil},
		{"влезает целиком", "  смета готова  ", 20, []string{"смета готова"}},
		{"по абзацу", "первый абзац\nстрока\n\nвторой", 22, []string{"первый абзац\nстрока", "второй"}},
		{"по строке", "раз два\nтри четыре", 12, []string{"раз два", "три четыре"}},
		{"по слову", "перепланировка квартиры", 18, []string{"перепланировка", "квартиры"}},
		{"длинное слово", "абвгдеж", 3, []string{"абв", "где", "ж"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := splitRunes(tc.text, tc.limit)
			if len(got) != len(tc.want) {
				t.Fatalf("ожидалось %d частей, получено %d: %q", len(tc.want), len(got), got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("часть %d: ожидалось %q, получено %q", i, tc.want[i], got[i])
				}
			}
		})
	}
}

func TestSplitMessageKeepsCyrillicUnderLimit(t *testing.T) {
	paragraph := strings.Repeat("ж", 3000)
	text := paragraph + "\n\n" + strings.Repeat("з", 2000) + "\n" + strings.Repeat("и", 500)

	parts := SplitMessage(text)
	if len(parts) != 2 {
		t.Fatalf("ожидалось 2 части, получено %d", len(parts))
	}
	for i, part := range parts {
		if !utf8.ValidString(part) {
			t.Fatalf("часть %d разрезана посреди руны", i)
		}
		if n := utf8.RuneCountInString(part); n > messageLimit {
			t.Fatalf("часть %d длиннее лимита: %d", i, n)
		}
	}
	if parts[0] != paragraph {
		t.Fatalf("первая часть должна быть первым абзацем")
	}
	if !strings.HasPrefix(parts[1], "з") || !strings.HasSuffix(parts[1], "и") {
		t.Fatalf("вторая часть собрана неверно")
	}
}
