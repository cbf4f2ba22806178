package handlers

import (
	"sync"
	"time"

	"github.com/MegaGrindStone/llamachat/internal/chat"
)

// Limits of the session registry. Idle sessions are dropped after sessionIdleTTL, and once
// maxSessions are held the least recently used idle session makes room for a new one.
const (
	sessionIdleTTL = time.Hour
	maxSessions    = 1024
)

type sessionEntry struct {
	sess     *chat.Session
	lastUsed time.Time
}

type sessionRegistry struct {
	mu      sync.Mutex
	byID    map[string]*sessionEntry
	idleTTL time.Duration
	max     int
	now     func() time.Time
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{
		byID:    make(map[string]*sessionEntry),
		idleTTL: sessionIdleTTL,
		max:     maxSessions,
		now:     time.Now,
	}
}

// get returns the session stored under id and marks it as used.
func (r *sessionRegistry) get(id string) (*chat.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	e.lastUsed = r.now()
	return e.sess, true
}

// getOrCreate returns the session stored under id, creating it with create when there is none.
// Expired sessions are evicted before a new one is stored.
func (r *sessionRegistry) getOrCreate(id string, create func() (*chat.Session, error)) (*chat.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if e, ok := r.byID[id]; ok {
		e.lastUsed = now
		return e.sess, nil
	}

	r.evictLocked(now)

	sess, err := create()
	if err != nil {
		return nil, err
	}
	r.byID[id] = &sessionEntry{sess: sess, lastUsed: now}
	return sess, nil
}

func (r *sessionRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// evictLocked drops idle sessions past the TTL, then the least recently used ones while the
// registry is full. Sessions with a turn in flight are never dropped.
func (r *sessionRegistry) evictLocked(now time.Time) {
	for id, e := range r.byID {
		if now.Sub(e.lastUsed) > r.idleTTL && !e.sess.Snapshot().Loading {
			delete(r.byID, id)
		}
	}

	for len(r.byID) >= r.max {
		oldestID := ""
		var oldest time.Time
		for id, e := range r.byID {
			if e.sess.Snapshot().Loading {
				continue
			}
			if oldestID == "" || e.lastUsed.Before(oldest) {
				oldestID, oldest = id, e.lastUsed
			}
		}
		if oldestID == "" {
			return
		}
		delete(r.byID, oldestID)
	}
}
