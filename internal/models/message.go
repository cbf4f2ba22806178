package models

import (
	"fmt"
	"time"
)

// Message represents an individual entry within a transcript. It carries the participant's role, the
// raw text content as typed by the user or returned by the model, and the time it was created. A zero
// Timestamp means the time is unknown.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"-"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleSystem is only used on the wire for the preamble; it never appears in a transcript.
	RoleSystem Role = "system"
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a message returned by the completion backend.
	RoleAssistant Role = "assistant"
)

// TimestampLayout is the hour:minute layout used when displaying message times.
const TimestampLayout = "15:04"

// NewMessage creates a message stamped with the given time.
func NewMessage(role Role, content string, at time.Time) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: at,
	}
}

// FormattedTime returns the message time as hour:minute, or an empty string when unset.
func (m Message) FormattedTime() string {
	if m.Timestamp.IsZero() {
		return ""
	}
	return m.Timestamp.Format(TimestampLayout)
}

// Validate reports whether the message can be part of a transcript.
func (m Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant:
		return nil
	default:
		return fmt.Errorf("invalid transcript role %q", m.Role)
	}
}
