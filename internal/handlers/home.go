package handlers

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/llamachat/internal/chat"
	"github.com/MegaGrindStone/llamachat/internal/models"
	"github.com/MegaGrindStone/llamachat/internal/render"
)

type message struct {
	Role     string
	Time     string
	Segments []segment
}

type segment struct {
	Code     bool
	ID       string
	Language string
	HTML     template.HTML
	Copied   bool
}

type homePageData struct {
	Messages []message
	Loading  bool
	Error    string
	MenuOpen bool
	Dark     bool
}

// HandleHome renders the chat page with the current state of the browser's session, or an empty chat
// when the browser has none yet. It answers every GET path, so client-side routes land on the chat
// page too.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Pages only read state; the session is created by the first POST.
	var snap chat.Snapshot
	if sess, ok := m.sessions.get(m.sessionID(w, r)); ok {
		snap = sess.Snapshot()
	}

	data, err := m.pageData(snap)
	if err != nil {
		m.logger.Error("Failed to render messages", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to execute home template", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleCSS serves the stylesheet of the configured highlighting style.
func (m Main) HandleCSS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	if err := m.renderer.CSS(w); err != nil {
		m.logger.Error("Failed to write highlighting css", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) pageData(snap chat.Snapshot) (homePageData, error) {
	msgs := make([]message, len(snap.Messages))
	for i, msg := range snap.Messages {
		view, err := m.messageView(i, msg, snap.Copied)
		if err != nil {
			return homePageData{}, err
		}
		msgs[i] = view
	}

	return homePageData{
		Messages: msgs,
		Loading:  snap.Loading,
		Error:    snap.Error,
		MenuOpen: snap.MenuOpen,
		Dark:     snap.Dark,
	}, nil
}

// messageView renders the segments of the message at transcript position index.
func (m Main) messageView(index int, msg models.Message, copied map[string]bool) (message, error) {
	parts := render.Split(index, msg.Content)
	segments := make([]segment, 0, len(parts))
	for _, part := range parts {
		if part.Kind == render.KindCode {
			html, err := m.renderer.HTML(part.Language, part.Code)
			if err != nil {
				return message{}, fmt.Errorf("failed to highlight block %s: %w", part.ID, err)
			}
			segments = append(segments, segment{
				Code:     true,
				ID:       part.ID,
				Language: part.Language,
				HTML:     html,
				Copied:   copied[part.ID],
			})
			continue
		}

		html, err := m.renderer.Paragraph(part.Text)
		if err != nil {
			return message{}, fmt.Errorf("failed to render paragraph: %w", err)
		}
		segments = append(segments, segment{HTML: html})
	}

	return message{
		Role:     string(msg.Role),
		Time:     msg.FormattedTime(),
		Segments: segments,
	}, nil
}

func (m Main) executeToString(name string, data any) (string, error) {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, name, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return sb.String(), nil
}
