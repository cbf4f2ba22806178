package models

import "slices"

// Transcript is an ordered, append-only sequence of messages for a single chat session. It is not
// safe for concurrent use; the owner serializes access.
type Transcript struct {
	messages []Message
}

// Append adds a message at the end of the transcript.
func (t *Transcript) Append(m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	t.messages = append(t.messages, m)
	return nil
}

// Messages returns a copy of the transcript in send/receive order.
func (t *Transcript) Messages() []Message {
	return slices.Clone(t.messages)
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	return len(t.messages)
}

// Reset discards every message.
func (t *Transcript) Reset() {
	t.messages = nil
}
