package handlers

import (
	"time"

	"github.com/MegaGrindStone/llamachat/internal/models"
)

// Messages returns the transcript of the session identified by sessionID, or nil if there is none.
func Messages(m Main, sessionID string) []models.Message {
	sess, ok := m.sessions.get(sessionID)
	if !ok {
		return nil
	}
	return sess.Snapshot().Messages
}

func SessionCount(m Main) int {
	return m.sessions.len()
}

func SetSessionClock(m Main, now func() time.Time) {
	m.sessions.now = now
}

func SetMaxSessions(m Main, n int) {
	m.sessions.max = n
}
