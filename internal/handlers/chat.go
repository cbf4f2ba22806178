package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/llamachat/internal/chat"
)

// HandleChats submits the "message" form field as a new turn. It responds with the rendered user
// message and the thinking indicator, then resolves the turn in the background; the reply or the
// error reaches the browser over SSE once the response is written.
//
// Whitespace-only messages are rejected with 400 and messages sent while a turn is in flight with
// 409. Neither changes the session.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID, sess, err := m.session(w, r)
	if err != nil {
		m.logger.Error("Failed to get session", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	turn, err := sess.Submit(r.FormValue("message"))
	switch {
	case errors.Is(err, chat.ErrEmptyInput):
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	case errors.Is(err, chat.ErrBusy):
		http.Error(w, "A message is already being sent", http.StatusConflict)
		return
	case err != nil:
		m.logger.Error("Failed to submit message",
			slog.String("session", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// The turn resolves only after the fragment is written and flushed. It resolves even when the
	// fragment fails to render, so the session always leaves the sending state.
	defer func() { go m.resolve(sessionID, sess, turn) }()

	fragment, err := m.turnFragment(turn)
	if err != nil {
		m.logger.Error("Failed to render user message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = io.WriteString(w, fragment)
	if err := http.NewResponseController(w).Flush(); err != nil {
		m.logger.Debug("Failed to flush chat fragment", slog.String(errLoggerKey, err.Error()))
	}
}

// turnFragment renders the submitted user message followed by the thinking indicator.
func (m Main) turnFragment(turn chat.Turn) (string, error) {
	view, err := m.messageView(len(turn.Messages)-1, turn.User, nil)
	if err != nil {
		return "", err
	}
	user, err := m.executeToString("chat_message", view)
	if err != nil {
		return "", err
	}
	thinking, err := m.executeToString("thinking", nil)
	if err != nil {
		return "", err
	}
	return user + thinking, nil
}

func (m Main) resolve(sessionID string, sess *chat.Session, turn chat.Turn) {
	reply, err := sess.Resolve(context.Background(), turn)
	if err != nil {
		// The session records and publishes the failure itself.
		return
	}
	m.logger.Debug("Assistant replied",
		slog.String("session", sessionID),
		slog.Int("length", len(reply.Content)))
}

// HandleClear empties the transcript of the session and responds with the re-rendered message list.
func (m Main) HandleClear(w http.ResponseWriter, r *http.Request) {
	sess, ok := m.postSession(w, r)
	if !ok {
		return
	}

	sess.Clear()
	m.renderFragment(w, "messages", sess.Snapshot())
}

// HandleMenu toggles the menu and responds with the rendered menu, which is empty when closed.
func (m Main) HandleMenu(w http.ResponseWriter, r *http.Request) {
	sess, ok := m.postSession(w, r)
	if !ok {
		return
	}

	sess.ToggleMenu()
	m.renderFragment(w, "menu", sess.Snapshot())
}

// HandleMenuClose closes the menu after a click outside of it.
func (m Main) HandleMenuClose(w http.ResponseWriter, r *http.Request) {
	sess, ok := m.postSession(w, r)
	if !ok {
		return
	}

	sess.CloseMenu()
	w.WriteHeader(http.StatusNoContent)
}

// HandleTheme toggles the dark theme and responds with "dark" or "light".
func (m Main) HandleTheme(w http.ResponseWriter, r *http.Request) {
	sess, ok := m.postSession(w, r)
	if !ok {
		return
	}

	theme := "light"
	if sess.ToggleTheme() {
		theme = "dark"
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, theme)
}

// HandleCopy marks the code block named by the "block" form field as copied and responds with its
// code as plain text, for the browser to place on the clipboard.
func (m Main) HandleCopy(w http.ResponseWriter, r *http.Request) {
	sess, ok := m.postSession(w, r)
	if !ok {
		return
	}

	code, err := sess.Copy(r.FormValue("block"))
	if err != nil {
		if errors.Is(err, chat.ErrBlockNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		m.logger.Error("Failed to copy block", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, code)
}

func (m Main) postSession(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}

	_, sess, err := m.session(w, r)
	if err != nil {
		m.logger.Error("Failed to get session", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return sess, true
}

func (m Main) renderFragment(w http.ResponseWriter, name string, snap chat.Snapshot) {
	data, err := m.pageData(snap)
	if err != nil {
		m.logger.Error("Failed to render messages", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := m.templates.ExecuteTemplate(w, name, data); err != nil {
		m.logger.Error("Failed to execute template",
			slog.String("template", name),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
