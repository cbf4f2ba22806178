package chat

import "github.com/MegaGrindStone/llamachat/internal/models"

// EventType names a session change pushed to front ends.
type EventType string

const (
	// EventReply carries the appended assistant message.
	EventReply EventType = "reply"
	// EventFailure carries the error text of a failed turn.
	EventFailure EventType = "failure"
	// EventCopyReset carries the id of a code block whose copied flag expired.
	EventCopyReset EventType = "copy_reset"
)

// Event is a session change that happened outside a front end's request.
type Event struct {
	Type EventType

	Message models.Message
	// Index is the transcript position of Message, or -1.
	Index   int
	Err     string
	BlockID string
	// Stale marks the outcome of a turn started before the last Clear. Nothing was recorded for it.
	Stale   bool
}
