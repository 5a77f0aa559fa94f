package config

import (
	"errors"
	"strings"
	"time"
	_ "time/tzdata"
)

// ErrInvalidTimezone часовой пояс не распознан.
var ErrInvalidTimezone = errors.New("некорректный часовой пояс")

// NormalizeTimezone приводит имя пояса к виду базы tzdata: «europe/moscow» и «Europe Moscow» дают «Europe/Moscow».
func NormalizeTimezone(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", ErrInvalidTimezone
	}
	candidate = strings.ReplaceAll(candidate, " ", "_")
	if _, err := time.LoadLocation(candidate); err == nil {
		return candidate, nil
	}
	parts := strings.Split(strings.ToLower(candidate), "/")
	if len(parts) == 1 && strings.Contains(parts[0], "_") {
		// «europe_moscow» без разделителя региона
		if region, city, ok := strings.Cut(parts[0], "_"); ok {
			parts = []string{region, city}
		}
	}
	for i, part := range parts {
		segments := strings.Split(part, "_")
		for j, segment := range segments {
			pieces := strings.Split(segment, "-")
			for k, piece := range pieces {
				if piece == "" {
					continue
				}
				r := []rune(piece)
				pieces[k] = strings.ToUpper(string(r[0])) + string(r[1:])
			}
			segments[j] = strings.Join(pieces, "-")
		}
		parts[i] = strings.Join(segments, "_")
	}
	normalized := strings.Join(parts, "/")
	if _, err := time.LoadLocation(normalized); err == nil {
		return normalized, nil
	}
	return "", ErrInvalidTimezone
}
