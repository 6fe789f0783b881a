package weather

import (
	"regexp"
	"strings"
)

// DefaultLocation is used when the request names no place.
const DefaultLocation = "Stockton-on-Tees"

var (
	placePattern  = regexp.MustCompile(`(?i)\b(?:in|for|at)\s+([\p{L}][\p{L}\s.'-]*)`)
	trailingNoise = regexp.MustCompile(`(?i)\s+(today|tonight|now|right now|tomorrow|please|currently|like)$`)
	leadingThe    = regexp.MustCompile(`(?i)^the\s+`)
)

// ExtractLocation pulls a place name out of "weather in Lisbon" style text,
// falling back to def.
func ExtractLocation(text, def string) string {
	m := placePattern.FindStringSubmatch(text)
	if m == nil {
		return def
	}
	place := strings.TrimSpace(strings.TrimRight(m[1], " .'-"))
	for {
		trimmed := trailingNoise.ReplaceAllString(place, "")
		if trimmed == place {
			break
		}
		place = strings.TrimSpace(trimmed)
	}
	place = strings.TrimSpace(leadingThe.ReplaceAllString(place, ""))
	if place == "" || isNoise(place) {
		return def
	}
	return place
}

// TopicKey is the cache key for a location's weather.
func TopicKey(location string) string {
	return "weather:" + strings.ToLower(strings.TrimSpace(location))
}

func isNoise(place string) bool {
	switch strings.ToLower(place) {
	case "today", "tonight", "now", "tomorrow", "please", "general", "here", "me", "moment", "the moment":
		return true
	}
	return false
}
