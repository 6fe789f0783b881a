// Package session tracks per-session timing used for the contract time
// anchor. State is in-memory only and bounded.
package session

import (
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultID is used when the caller sends no session id.
const DefaultID = "default"

// MaxIDLength is the longest id accepted verbatim.
const MaxIDLength = 128

const DefaultCapacity = 10000

var validID = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)

// sessionNamespace seeds derived ids so they never collide with other v5
// namespaces.
var sessionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("companion-core/session"))

// ResolveID returns the id to key session state by. Well-formed ids pass
// through; anything else maps to a stable UUIDv5 of the raw value.
func ResolveID(raw string) string {
	if raw == "" {
		return DefaultID
	}
	if len(raw) <= MaxIDLength && validID.MatchString(raw) {
		return raw
	}
	return uuid.NewSHA1(sessionNamespace, []byte(raw)).String()
}

type state struct {
	start    time.Time
	lastTurn *time.Time
}

// Store holds session start and last-turn times.
type Store struct {
	mu       sync.Mutex
	sessions *lru.Cache[string, state]
	now      func() time.Time
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	sessions, _ := lru.New[string, state](capacity)
	return &Store{sessions: sessions, now: time.Now}
}

// WithClock overrides the clock. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Begin returns the session start and the time of the previous resolved
// turn, creating the session on first sight. lastTurn is nil before the
// first Touch.
func (s *Store) Begin(id string) (time.Time, *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions.Get(id)
	if !ok {
		st = state{start: s.now()}
		s.sessions.Add(id, st)
	}
	if st.lastTurn == nil {
		return st.start, nil
	}
	last := *st.lastTurn
	return st.start, &last
}

// Touch records a resolved turn at the given time.
func (s *Store) Touch(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions.Get(id)
	if !ok {
		st = state{start: at}
	}
	st.lastTurn = &at
	s.sessions.Add(id, st)
}

func (s *Store) Len() int {
	return s.sessions.Len()
}
