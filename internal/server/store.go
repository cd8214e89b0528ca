package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

// Interview is the server-side record of one session. Handlers hold mu
// while reading or mutating the answer flow; a session may be driven by
// the stream handler and the fallback REST transport at different
// times, never both at once.
type Interview struct {
	mu sync.Mutex

	ID             string
	VisaType       string
	VoiceID        string
	Level          string
	Questions      []string
	Index          int // 1-based index of the active question
	Answers        []ScoredAnswer
	Audio          map[int][]byte // synthesized question audio by index
	Complete       bool
	CreatedAt      time.Time
	StreamAttached bool
}

// ActiveQuestion returns the text of the question at Index.
func (iv *Interview) ActiveQuestion() string {
	return iv.Questions[iv.Index-1]
}

// AudioPath is the URL path the client fetches question audio from.
func (iv *Interview) AudioPath(index int) string {
	return fmt.Sprintf("/audio/%s/q%d.mp3", iv.ID, index)
}

// attachStream claims the session for a streaming connection. It fails
// when another stream already holds it.
func (iv *Interview) attachStream() bool {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	if iv.StreamAttached {
		return false
	}
	iv.StreamAttached = true
	return true
}

func (iv *Interview) detachStream() {
	iv.mu.Lock()
	iv.StreamAttached = false
	iv.mu.Unlock()
}

// streamHeld reports whether a streaming connection is driving the
// session right now.
func (iv *Interview) streamHeld() bool {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	return iv.StreamAttached
}

// Store keeps interviews in memory. Sessions older than the TTL are
// swept on access.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Interview
	ttl      time.Duration
	now      func() time.Time
}

// NewStore returns an empty store with a one hour session TTL.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Interview),
		ttl:      time.Hour,
		now:      time.Now,
	}
}

// Create registers a new interview with a fresh id.
func (s *Store) Create(visaType, level, voiceID string, questions []string) *Interview {
	iv := &Interview{
		ID:        uuid.NewString(),
		VisaType:  visaType,
		VoiceID:   voiceID,
		Level:     level,
		Questions: questions,
		Index:     1,
		Audio:     make(map[int][]byte),
		CreatedAt: s.now(),
	}
	s.mu.Lock()
	s.sweepLocked()
	s.sessions[iv.ID] = iv
	s.mu.Unlock()
	return iv
}

// Get looks a session up by id.
func (s *Store) Get(id string) (*Interview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	iv, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return iv, nil
}

// Delete removes a finished session.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) sweepLocked() {
	cutoff := s.now().Add(-s.ttl)
	for id, iv := range s.sessions {
		if iv.CreatedAt.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}
