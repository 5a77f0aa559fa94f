package menu

import "testing"

func TestParseAction(t *testing.T) {
	cases := map[string]Action{
		ButtonQuiz:          ActionQuiz,
		" /ask ":            ActionDialog,
		ButtonInvest:        ActionInvest,
		"📞 заказать звонок": ActionCallback,
		"привет":            ActionNone,
	}
	for in, want := range cases {
		if got := ParseAction(in); got != want {
			t.Fatalf("ParseAction(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestIsConsent(t *testing.T) {
	if !IsConsent(" ✅ Consent ") {
		t.Fatal("ожидали согласие")
	}
	if IsConsent("да") || IsConsent("consent") {
		t.Fatal("принята неточная фраза")
	}
}

func TestMainMenuMiniApp(t *testing.T) {
	if kb := Main(""); len(kb.Rows) != 2 {
		t.Fatalf("без мини-приложения ожидали 2 ряда, получили %d", len(kb.Rows))
	}
	kb := Main("https://app.example")
	if last := kb.Rows[len(kb.Rows)-1][0]; last.WebAppURL != "https://app.example" {
		t.Fatalf("кнопка мини-приложения: %+v", last)
	}
}
