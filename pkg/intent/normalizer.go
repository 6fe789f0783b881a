// Package intent turns raw user text into the canonical request record the
// router works from.
package intent

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/contracts"
)

// DefaultLanguage is reported when no better guess is available.
const DefaultLanguage = "en"

// vocabulary maps a hint to the keyword pattern that detects it. Order is
// detection priority; the first match becomes the primary hint.
var vocabulary = []struct {
	hint    contracts.IntentHint
	pattern *regexp.Regexp
}{
	{contracts.HintWeather, regexp.MustCompile(`(?i)\b(weather|forecast|temperature)\b`)},
	{contracts.HintTime, regexp.MustCompile(`(?i)\b(time|clock|timezone)\b`)},
	{contracts.HintMemory, regexp.MustCompile(`(?i)\b(remember|recall|memory)\b`)},
}

var supportedLanguages = []language.Tag{
	language.English,
	language.Spanish,
	language.Portuguese,
	language.French,
	language.German,
}

var languageMatcher = language.NewMatcher(supportedLanguages)

// Normalizer builds NormalizedRequests. The clock and id source are
// swappable so tests can pin them.
type Normalizer struct {
	now     func() time.Time
	traceID func() string
}

// NewNormalizer returns a Normalizer on the wall clock with random UUID
// trace ids.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		now:     time.Now,
		traceID: func() string { return uuid.New().String() },
	}
}

// WithClock overrides the clock.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// WithTraceIDs overrides the trace id source.
func (n *Normalizer) WithTraceIDs(next func() string) *Normalizer {
	n.traceID = next
	return n
}

// Normalize canonicalizes raw text. It never fails: unmatched text yields
// an empty hint set.
func (n *Normalizer) Normalize(raw string) contracts.NormalizedRequest {
	return n.NormalizeLocalized(raw, "")
}

// NormalizeLocalized is Normalize with an Accept-Language style hint used
// for the language tag.
func (n *Normalizer) NormalizeLocalized(raw, acceptLanguage string) contracts.NormalizedRequest {
	text := norm.NFC.String(strings.TrimSpace(raw))
	return contracts.NormalizedRequest{
		RequestHash: Digest(text),
		TraceID:     n.traceID(),
		Text:        text,
		Language:    DetectLanguage(acceptLanguage),
		IntentHints: ExtractHints(text),
		TimestampMs: n.now().UnixMilli(),
	}
}

// Digest returns the hex SHA-256 of the NFC form of text, so visually
// identical inputs hash identically.
func Digest(text string) string {
	sum := sha256.Sum256([]byte(norm.NFC.String(text)))
	return hex.EncodeToString(sum[:])
}

// ExtractHints returns the detected hints in priority order.
func ExtractHints(text string) []contracts.IntentHint {
	hints := make([]contracts.IntentHint, 0, len(vocabulary))
	for _, v := range vocabulary {
		if v.pattern.MatchString(text) {
			hints = append(hints, v.hint)
		}
	}
	return hints
}

// DetectLanguage picks the best supported base language from an
// Accept-Language value, defaulting to English.
func DetectLanguage(acceptLanguage string) string {
	if strings.TrimSpace(acceptLanguage) == "" {
		return DefaultLanguage
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return DefaultLanguage
	}
	_, idx, confidence := languageMatcher.Match(tags...)
	if confidence == language.No {
		return DefaultLanguage
	}
	base, _ := supportedLanguages[idx].Base()
	return base.String()
}
