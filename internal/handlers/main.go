package handlers

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/MegaGrindStone/llamachat"
	"github.com/MegaGrindStone/llamachat/internal/chat"
	"github.com/MegaGrindStone/llamachat/internal/render"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// Main serves the web chat view. Each browser gets its own chat.Session, identified by a cookie, and
// receives the outcome of its turns over server-sent events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template
	renderer  render.Renderer

	llm            chat.Completer
	copyResetDelay time.Duration
	sessions       *sessionRegistry

	logger *slog.Logger
}

// SessionCookieName is the cookie that carries the chat session id.
const SessionCookieName = "llamachat_session"

const errLoggerKey = "err"

// SSE event types pushed to the chat view.
var (
	replySSEType     = sse.Type("reply")
	failureSSEType   = sse.Type("failure")
	settledSSEType   = sse.Type("settled")
	copyResetSSEType = sse.Type("copy_reset")
)

// NewMain creates a Main that answers chat turns with llm. It parses the templates from the embedded
// filesystem and configures the SSE server to subscribe each client to the topic of its session.
func NewMain(llm chat.Completer, renderer render.Renderer, copyResetDelay time.Duration, logger *slog.Logger) (Main, error) {
	if llm == nil {
		return Main{}, errors.New("llm is required")
	}

	tmpl, err := template.ParseFS(
		llamachat.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, fmt.Errorf("failed to parse templates: %w", err)
	}

	logger = logger.With(slog.String("module", "handlers"))

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(w http.ResponseWriter, r *http.Request) ([]string, bool) {
				cookie, err := r.Cookie(SessionCookieName)
				if err != nil || cookie.Value == "" {
					http.Error(w, "Session is required", http.StatusBadRequest)
					return nil, false
				}
				return []string{sse.DefaultTopic, sessionTopic(cookie.Value)}, true
			},
		},
		templates:      tmpl,
		renderer:       renderer,
		llm:            llm,
		copyResetDelay: copyResetDelay,
		sessions:       newSessionRegistry(),
		logger:         logger,
	}, nil
}

func sessionTopic(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

// sessionID returns the session id carried by the browser's cookie, issuing a new id and setting the
// cookie when there is no valid one. Issuing an id does not create a session.
func (m Main) sessionID(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if _, err := uuid.Parse(cookie.Value); err == nil {
			return cookie.Value
		}
	}

	id := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// session returns the chat session of the requesting browser, creating it on first use. An unknown id
// from an existing cookie gets a fresh session under the same id, so a restarted server keeps the
// browser's event topic.
func (m Main) session(w http.ResponseWriter, r *http.Request) (string, *chat.Session, error) {
	id := m.sessionID(w, r)

	sess, err := m.sessions.getOrCreate(id, func() (*chat.Session, error) {
		return chat.NewSession(chat.Options{
			Completer:      m.llm,
			CopyResetDelay: m.copyResetDelay,
			OnEvent:        func(e chat.Event) { m.publish(id, e) },
			Logger:         m.logger.With(slog.String("session", id)),
		})
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create session: %w", err)
	}

	return id, sess, nil
}

// publish pushes a session event to the browsers subscribed to the session.
func (m Main) publish(sessionID string, e chat.Event) {
	msg := &sse.Message{}

	switch {
	case e.Type == chat.EventCopyReset:
		msg.Type = copyResetSSEType
		msg.AppendData(e.BlockID)
	case e.Stale:
		msg.Type = settledSSEType
		msg.AppendData("stale")
	case e.Type == chat.EventReply:
		view, err := m.messageView(e.Index, e.Message, nil)
		if err != nil {
			m.logger.Error("Failed to render reply",
				slog.String("session", sessionID),
				slog.String(errLoggerKey, err.Error()))
			return
		}
		html, err := m.executeToString("chat_message", view)
		if err != nil {
			m.logger.Error("Failed to execute chat_message template", slog.String(errLoggerKey, err.Error()))
			return
		}
		msg.Type = replySSEType
		msg.AppendData(html)
	case e.Type == chat.EventFailure:
		html, err := m.executeToString("chat_error", e.Err)
		if err != nil {
			m.logger.Error("Failed to execute chat_error template", slog.String(errLoggerKey, err.Error()))
			return
		}
		msg.Type = failureSSEType
		msg.AppendData(html)
	default:
		return
	}

	if err := m.sseSrv.Publish(msg, sessionTopic(sessionID)); err != nil {
		m.logger.Error("Failed to publish event",
			slog.String("session", sessionID),
			slog.String("type", string(e.Type)),
			slog.String(errLoggerKey, err.Error()))
	}
}

// HandleSSE streams session events to the browser.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown gracefully terminates the SSE server. It broadcasts a close message to all connected
// clients and waits up to 5 seconds for connections to terminate.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// SSE clients ignore events without data.
	e.AppendData("bye")

	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
