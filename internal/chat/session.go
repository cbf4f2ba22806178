// Package chat holds the state of one chat view: the transcript, the send/receive cycle, UI flags and
// the transient copy state of rendered code blocks. Front ends drive a Session through discrete events
// (submit, resolve, clear, toggles, copy) and render its Snapshot.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/llamachat/internal/models"
	"github.com/qmuntal/stateless"
)

// Completer sends a conversation to a completion backend and returns the assistant's reply. The
// backend is responsible for prepending its system preamble.
type Completer interface {
	Complete(ctx context.Context, messages []models.Message) (string, error)
}

// Clipboard receives copied code.
type Clipboard interface {
	WriteText(text string) error
}

// State is a state of the send/receive cycle.
type State string

// Trigger moves the send/receive cycle between states.
type Trigger string

const (
	StateIdle    State = "Idle"
	StateSending State = "Sending"
	StateSuccess State = "Success"
	StateFailed  State = "Failed"

	TriggerSubmit  Trigger = "Submit"
	TriggerRespond Trigger = "Respond"
	TriggerFail    Trigger = "Fail"
	TriggerSettle  Trigger = "Settle"
)

var (
	// ErrEmptyInput is returned by Submit for empty or whitespace-only input. Nothing changes.
	ErrEmptyInput = errors.New("input is empty")
	// ErrBusy is returned by Submit while a turn is in flight. Nothing changes.
	ErrBusy = errors.New("a request is already in flight")
	// ErrStaleTurn is returned by Resolve for a turn that is not the one in flight.
	ErrStaleTurn = errors.New("turn is not in flight")
	// ErrBlockNotFound is returned by Copy for an unknown block id.
	ErrBlockNotFound = errors.New("code block not found")
)

// DefaultCopyResetDelay is how long a copied flag stays set.
const DefaultCopyResetDelay = 2 * time.Second

const fallbackErrorMessage = "Failed to send message"

// Turn is one submitted user message awaiting its reply.
type Turn struct {
	id         uint64
	generation uint64

	// User is the appended user message.
	User models.Message
	// Messages is the prior transcript followed by User, as sent to the Completer.
	Messages []models.Message
}

// Options configures a Session. Completer is required.
type Options struct {
	Completer Completer
	// Clipboard is optional; without it Copy only tracks the copied flag.
	Clipboard Clipboard
	// CopyResetDelay defaults to DefaultCopyResetDelay.
	CopyResetDelay time.Duration
	// OnEvent is called, without the session lock held, after replies, failures and copy resets.
	OnEvent func(Event)
	// Now defaults to time.Now.
	Now func() time.Time
	// AfterFunc schedules f after d. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func())
	Logger    *slog.Logger
}

// Session is the explicit state container of a chat view. It is safe for concurrent use.
type Session struct {
	mu sync.Mutex

	completer      Completer
	clipboard      Clipboard
	copyResetDelay time.Duration
	onEvent        func(Event)
	now            func() time.Time
	afterFunc      func(time.Duration, func())
	logger         *slog.Logger

	fsm *stateless.StateMachine

	transcript models.Transcript
	errMsg     string
	menuOpen   bool
	dark       bool
	copied     map[string]bool

	// generation increments on Clear so replies to turns started before it are dropped.
	generation uint64
	lastTurn   uint64
	inFlight   uint64
}

// NewSession creates an idle session with an empty transcript.
func NewSession(opts Options) (*Session, error) {
	if opts.Completer == nil {
		return nil, errors.New("completer is required")
	}

	s := &Session{
		completer:      opts.Completer,
		clipboard:      opts.Clipboard,
		copyResetDelay: opts.CopyResetDelay,
		onEvent:        opts.OnEvent,
		now:            opts.Now,
		afterFunc:      opts.AfterFunc,
		logger:         opts.Logger,
		copied:         make(map[string]bool),
	}
	if s.copyResetDelay <= 0 {
		s.copyResetDelay = DefaultCopyResetDelay
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.afterFunc == nil {
		s.afterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s.logger = s.logger.With(slog.String("module", "chat"))

	s.fsm = s.newStateMachine()

	return s, nil
}

func (s *Session) newStateMachine() *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateIdle)

	fsm.Configure(StateIdle).
		Permit(TriggerSubmit, StateSending)

	fsm.Configure(StateSending).
		OnEntry(func(_ context.Context, args ...any) error {
			user := args[0].(models.Message)
			if err := s.transcript.Append(user); err != nil {
				return err
			}
			s.errMsg = ""
			return nil
		}).
		Permit(TriggerRespond, StateSuccess).
		Permit(TriggerFail, StateFailed)

	fsm.Configure(StateSuccess).
		OnEntry(func(_ context.Context, args ...any) error {
			turn := args[0].(Turn)
			reply := args[1].(models.Message)
			if turn.generation != s.generation {
				return nil
			}
			return s.transcript.Append(reply)
		}).
		Permit(TriggerSettle, StateIdle)

	fsm.Configure(StateFailed).
		OnEntry(func(_ context.Context, args ...any) error {
			turn := args[0].(Turn)
			if turn.generation != s.generation {
				return nil
			}
			s.errMsg = args[1].(string)
			return nil
		}).
		Permit(TriggerSettle, StateIdle)

	return fsm
}

func (s *Session) state() State {
	return s.fsm.MustState().(State)
}

// Submit starts a turn. Empty input and submissions while a turn is in flight are rejected with
// ErrEmptyInput and ErrBusy and leave the session untouched. Otherwise the trimmed input is appended
// immediately, the previous error is cleared and the session is loading until Resolve.
func (s *Session) Submit(input string) (Turn, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Turn{}, ErrEmptyInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state() != StateIdle {
		return Turn{}, ErrBusy
	}

	user := models.NewMessage(models.RoleUser, input, s.now())
	if err := s.fsm.Fire(TriggerSubmit, user); err != nil {
		return Turn{}, fmt.Errorf("failed to submit: %w", err)
	}

	s.lastTurn++
	s.inFlight = s.lastTurn
	return Turn{
		id:         s.inFlight,
		generation: s.generation,
		User:       user,
		Messages:   s.transcript.Messages(),
	}, nil
}

// Resolve performs the completion call of turn and settles the session. There is no cancellation:
// the call runs until the Completer returns. On failure the error text replaces any previous error
// and the user message stays in the transcript.
func (s *Session) Resolve(ctx context.Context, turn Turn) (models.Message, error) {
	s.mu.Lock()
	if turn.id == 0 || turn.id != s.inFlight || s.state() != StateSending {
		s.mu.Unlock()
		return models.Message{}, ErrStaleTurn
	}
	s.inFlight = 0
	s.mu.Unlock()

	content, err := s.completer.Complete(ctx, turn.Messages)

	s.mu.Lock()
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = fallbackErrorMessage
		}
		s.logger.Error("Chat Error", slog.String("err", msg))

		stale := turn.generation != s.generation
		fireErr := s.settle(TriggerFail, turn, msg)
		s.mu.Unlock()
		if fireErr != nil {
			return models.Message{}, fireErr
		}
		s.emit(Event{Type: EventFailure, Err: msg, Index: -1, Stale: stale})
		return models.Message{}, err
	}

	reply := models.NewMessage(models.RoleAssistant, content, s.now())
	stale := turn.generation != s.generation
	fireErr := s.settle(TriggerRespond, turn, reply)
	index := -1
	if !stale {
		index = s.transcript.Len() - 1
	}
	s.mu.Unlock()
	if fireErr != nil {
		return models.Message{}, fireErr
	}
	s.emit(Event{Type: EventReply, Message: reply, Index: index, Stale: stale})
	return reply, nil
}

func (s *Session) settle(trigger Trigger, args ...any) error {
	if err := s.fsm.Fire(trigger, args...); err != nil {
		return fmt.Errorf("failed to fire %s: %w", trigger, err)
	}
	if err := s.fsm.Fire(TriggerSettle); err != nil {
		return fmt.Errorf("failed to settle: %w", err)
	}
	return nil
}

// Send submits input and resolves the resulting turn.
func (s *Session) Send(ctx context.Context, input string) (models.Message, error) {
	turn, err := s.Submit(input)
	if err != nil {
		return models.Message{}, err
	}
	return s.Resolve(ctx, turn)
}

// Clear empties the transcript, clears the error and closes the menu. A turn still in flight settles
// normally but its reply is dropped.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transcript.Reset()
	s.errMsg = ""
	s.menuOpen = false
	s.generation++
}

// ToggleMenu flips the menu and returns whether it is now open.
func (s *Session) ToggleMenu() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.menuOpen = !s.menuOpen
	return s.menuOpen
}

// CloseMenu closes the menu, as on a click outside it.
func (s *Session) CloseMenu() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.menuOpen = false
}

// ToggleTheme flips the dark theme, closes the menu and returns whether dark is now on.
func (s *Session) ToggleTheme() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dark = !s.dark
	s.menuOpen = false
	return s.dark
}

// Snapshot is an immutable view of a session.
type Snapshot struct {
	Messages []models.Message
	State    State
	Loading  bool
	Error    string
	MenuOpen bool
	Dark     bool
	Copied   map[string]bool
}

// Snapshot returns the current state of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make(map[string]bool, len(s.copied))
	for id, v := range s.copied {
		copied[id] = v
	}

	state := s.state()
	return Snapshot{
		Messages: s.transcript.Messages(),
		State:    state,
		Loading:  state == StateSending,
		Error:    s.errMsg,
		MenuOpen: s.menuOpen,
		Dark:     s.dark,
		Copied:   copied,
	}
}

func (s *Session) emit(e Event) {
	if s.onEvent != nil {
		s.onEvent(e)
	}
}
