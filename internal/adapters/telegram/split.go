package telegram

import "strings"

const messageLimit = 4096

// Границы разреза в порядке предпочтения: абзац, строка, пробел.
var cutPoints = []string{"\n\n", "\n", " "}

// SplitMessage режет текст на части не длиннее лимита сообщения Telegram.
func SplitMessage(text string) []string {
	return splitRunes(text, messageLimit)
}

// splitRunes режет текст на части не длиннее limit рун. Сначала ищется граница абзаца,
// затем строки и слова; слово длиннее лимита режется жёстко.
func splitRunes(text string, limit int) []string {
	rest := strings.TrimSpace(text)
	if rest == "" || limit <= 0 {
		return nil
	}
	var chunks []string
	for rest != "" {
		runes := []rune(rest)
		if len(runes) <= limit {
			chunks = append(chunks, rest)
			break
		}
		head := string(runes[:limit])
		cut := len(head)
		for _, sep := range cutPoints {
			if i := strings.LastIndex(head, sep); i > 0 {
				cut = i
				break
			}
		}
		if chunk := strings.TrimSpace(rest[:cut]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		rest = strings.TrimSpace(rest[cut:])
	}
	return chunks
}
