package chat

import (
	"fmt"

	"github.com/MegaGrindStone/llamachat/internal/render"
)

// Copy places the trimmed code of block blockID on the clipboard and sets its copied flag. The flag
// clears after the reset delay no matter what happens in between; every copy schedules its own reset,
// and flags of different blocks are independent.
func (s *Session) Copy(blockID string) (string, error) {
	s.mu.Lock()
	code, ok := s.findBlock(blockID)
	s.mu.Unlock()
	if !ok {
		return "", ErrBlockNotFound
	}

	if s.clipboard != nil {
		if err := s.clipboard.WriteText(code); err != nil {
			return "", fmt.Errorf("failed to write clipboard: %w", err)
		}
	}

	s.mu.Lock()
	s.copied[blockID] = true
	s.mu.Unlock()

	s.afterFunc(s.copyResetDelay, func() {
		s.mu.Lock()
		delete(s.copied, blockID)
		s.mu.Unlock()
		s.emit(Event{Type: EventCopyReset, BlockID: blockID})
	})

	return code, nil
}

// Copied reports whether blockID was copied within the reset delay.
func (s *Session) Copied(blockID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.copied[blockID]
}

func (s *Session) findBlock(blockID string) (string, bool) {
	for i, msg := range s.transcript.Messages() {
		for _, block := range render.CodeBlocks(i, msg.Content) {
			if block.ID == blockID {
				return block.Code, true
			}
		}
	}
	return "", false
}
