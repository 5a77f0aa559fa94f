// Package knowledge индексирует каталог текстов и находит фрагменты под вопрос клиента.
package knowledge

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
)

// Значения по умолчанию для выдачи.
const (
	DefaultTopK   = 3
	DefaultWindow = 400
	minTokenRunes = 3
)

var stopwords = map[string]struct{}{
	"как": {}, "что": {}, "это": {}, "для": {}, "или": {}, "при": {}, "без": {}, "где": {}, "так": {},
	"все": {}, "уже": {}, "если": {}, "есть": {}, "можно": {}, "нужно": {}, "надо": {}, "мне": {},
	"вас": {}, "нас": {}, "вам": {}, "они": {}, "она": {}, "его": {}, "там": {}, "тут": {}, "ещё": {},
	"еще": {}, "чтобы": {}, "когда": {}, "какой": {}, "какие": {}, "сколько": {}, "будет": {}, "the": {},
	"and": {}, "for": {}, "with": {}, "what": {}, "how": {},
}

// Document документ базы знаний.
type Document struct {
	Path    string
	Content string
	lower   string
}

// Fragment найденный фрагмент документа.
type Fragment struct {
	Path  string
	Text  string
	Score int
}

// Base неизменяемый индекс документов. Безопасен для конкурентного чтения.
type Base struct {
	docs   []Document
	topK   int
	window int
}

// Option настраивает выдачу.
type Option func(*Base)

// WithTopK число документов в выдаче.
func WithTopK(k int) Option { return func(b *Base) { b.topK = k } }

// WithWindow полуширина окна вокруг совпадения в символах.
func WithWindow(w int) Option { return func(b *Base) { b.window = w } }

// New строит индекс из готовых документов.
func New(docs []Document, opts ...Option) *Base {
	b := &Base{topK: DefaultTopK, window: DefaultWindow}
	for _, opt := range opts {
		opt(b)
	}
	b.docs = make([]Document, 0, len(docs))
	for _, d := range docs {
		d.lower = strings.ToLower(d.Content)
		b.docs = append(b.docs, d)
	}
	sort.Slice(b.docs, func(i, j int) bool { return b.docs[i].Path < b.docs[j].Path })
	return b
}

// Load читает .md и .txt файлы из каталога. Пустой каталог даёт пустую базу.
func Load(root string, log zerolog.Logger, opts ...Option) (*Base, error) {
	if root == "" {
		return New(nil, opts...), nil
	}
	var docs []Document
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !supported(path) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("knowledge: чтение %s: %w", path, err)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		docs = append(docs, Document{Path: filepath.ToSlash(rel), Content: string(data)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: обход %s: %w", root, err)
	}
	log.Info().Str("dir", root).Int("documents", len(docs)).Msg("knowledge: база знаний загружена")
	return New(docs, opts...), nil
}

func supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".txt":
		return true
	}
	return false
}

// Len количество документов.
func (b *Base) Len() int { return len(b.docs) }

// Search возвращает до topK фрагментов по убыванию числа вхождений ключевых слов.
func (b *Base) Search(query string) []Fragment {
	tokens := Tokens(query)
	if len(tokens) == 0 {
		return nil
	}
	type hit struct {
		doc   *Document
		score int
	}
	var hits []hit
	for i := range b.docs {
		doc := &b.docs[i]
		score := 0
		for _, t := range tokens {
			score += strings.Count(doc.lower, t)
		}
		if score > 0 {
			hits = append(hits, hit{doc: doc, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > b.topK {
		hits = hits[:b.topK]
	}
	out := make([]Fragment, 0, len(hits))
	for _, h := range hits {
		out = append(out, Fragment{Path: h.doc.Path, Text: b.excerpt(h.doc, tokens), Score: h.score})
	}
	return out
}

// Context склеивает фрагменты для системного промпта. Результат зависит только от корпуса и запроса.
func (b *Base) Context(query string) string {
	frags := b.Search(query)
	if len(frags) == 0 {
		return ""
	}
	parts := make([]string, 0, len(frags))
	for _, f := range frags {
		parts = append(parts, fmt.Sprintf("[%s]\n%s", f.Path, f.Text))
	}
	return strings.Join(parts, "\n\n")
}

// excerpt окно ±window символов вокруг первого совпадения или начало документа.
func (b *Base) excerpt(doc *Document, tokens []string) string {
	runes := []rune(doc.Content)
	first := -1
	for _, t := range tokens {
		idx := strings.Index(doc.lower, t)
		if idx < 0 {
			continue
		}
		pos := len([]rune(doc.lower[:idx]))
		if first < 0 || pos < first {
			first = pos
		}
	}
	start, end := 0, len(runes)
	if first >= 0 {
		start = max(0, first-b.window)
		end = min(len(runes), first+b.window)
	} else if end > 2*b.window {
		end = 2 * b.window
	}
	return strings.TrimSpace(string(runes[start:end]))
}

// Tokens разбивает запрос на уникальные слова в нижнем регистре без коротких и служебных слов.
func Tokens(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < minTokenRunes {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
