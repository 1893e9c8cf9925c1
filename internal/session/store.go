package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/clipfetch/clipfetch/internal/renditions"
	"github.com/clipfetch/clipfetch/internal/resolver"
)

// ErrNoActiveSession indicates the user has no live session, either because
// none was ever created or because it expired or was cleared.
var ErrNoActiveSession = errors.New("no active session")

// DefaultTTL bounds how long a session survives without activity.
const DefaultTTL = 15 * time.Minute

// Session is the per-user ephemeral state linking a resolved URL to its
// renditions and the last progress token shown to the user.
type Session struct {
	UserID        int64
	ChatID        int64
	SourceURL     string
	Metadata      resolver.Metadata
	Renditions    []renditions.Rendition
	ProgressToken string
	UpdatedAt     time.Time
}

// Store holds at most one Session per user. All operations are safe for
// concurrent use and O(1) by user identifier.
type Store struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[int64]*Session
	logger   *slog.Logger
}

// NewStore creates a Store with the given TTL; ttl <= 0 falls back to
// DefaultTTL.
func NewStore(log *slog.Logger, ttl time.Duration) *Store {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		ttl:      ttl,
		sessions: make(map[int64]*Session),
		logger:   log.With(slog.String("component", "session")),
	}
}

// Put stores a session for the user, replacing any existing one.
func (s *Store) Put(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.UpdatedAt = time.Now()
	s.sessions[sess.UserID] = &sess
}

// Get returns a copy of the user's current session, or ErrNoActiveSession
// when the user has none or it has expired.
func (s *Store) Get(userID int64) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return Session{}, ErrNoActiveSession
	}
	if time.Since(sess.UpdatedAt) > s.ttl {
		delete(s.sessions, userID)
		return Session{}, ErrNoActiveSession
	}
	return *sess, nil
}

// MarkProgress records the latest progress token for the user's session and
// reports whether it differs from the previous one. Unchanged tokens are used
// by the pipeline to suppress redundant message edits. Returns
// ErrNoActiveSession when the user has no session.
func (s *Store) MarkProgress(userID int64, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return false, ErrNoActiveSession
	}
	if sess.ProgressToken == token {
		sess.UpdatedAt = time.Now()
		return false, nil
	}
	sess.ProgressToken = token
	sess.UpdatedAt = time.Now()
	return true, nil
}

// Clear removes the user's session if present.
func (s *Store) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops sessions whose last activity is older than the TTL relative to
// now. It is driven by a periodic job and returns the number removed.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for userID, sess := range s.sessions {
		if now.Sub(sess.UpdatedAt) > s.ttl {
			delete(s.sessions, userID)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("expired sessions swept", slog.Int("count", removed))
	}
	return removed
}
