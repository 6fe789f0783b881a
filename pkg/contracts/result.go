package contracts

// Answer is what a resolver produces when it can respond.
type Answer struct {
	Text            string  `json:"answer"`
	Confidence      float64 `json:"confidence"`
	Source          string  `json:"source"`
	TimestampMs     int64   `json:"timestamp_ms"`
	NeedsEscalation bool    `json:"needs_escalation,omitempty"`
}

// Result is either a hit carrying an Answer or a miss. The zero value is a
// miss.
type Result struct {
	answer Answer
	hit    bool
}

// Miss is the "no answer" result.
var Miss = Result{}

// Hit wraps an answer as a result.
func Hit(a Answer) Result {
	return Result{answer: a, hit: true}
}

// Answer returns the carried answer and whether the result is a hit.
func (r Result) Answer() (Answer, bool) {
	return r.answer, r.hit
}

// IsMiss reports whether the result carries no answer.
func (r Result) IsMiss() bool {
	return !r.hit
}
