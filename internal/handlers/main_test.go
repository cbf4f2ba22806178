package handlers_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MegaGrindStone/llamachat/internal/handlers"
	"github.com/MegaGrindStone/llamachat/internal/models"
	"github.com/MegaGrindStone/llamachat/internal/render"
)

type mockLLM struct {
	reply      string
	err        error
	gate       chan struct{}
	onComplete func()
}

func (m mockLLM) Complete(_ context.Context, _ []models.Message) (string, error) {
	if m.onComplete != nil {
		m.onComplete()
	}
	if m.gate != nil {
		<-m.gate
	}
	return m.reply, m.err
}

func newMain(t *testing.T, llm mockLLM) handlers.Main {
	t.Helper()

	main, err := handlers.NewMain(llm, render.NewRenderer(render.Options{Style: "monokai"}), time.Second,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}
	t.Cleanup(func() { _ = main.Shutdown(context.Background()) })
	return main
}

// openSession loads the home page and returns the session cookie it set. The session itself is
// created by the first POST.
func openSession(t *testing.T, main handlers.Main) *http.Cookie {
	t.Helper()

	w := httptest.NewRecorder()
	main.HandleHome(w, httptest.NewRequest(http.MethodGet, "/", nil))
	for _, c := range w.Result().Cookies() {
		if c.Name == handlers.SessionCookieName {
			return c
		}
	}
	t.Fatal("HandleHome() did not set the session cookie")
	return nil
}

func post(handler http.HandlerFunc, cookie *http.Cookie, target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func home(main handlers.Main, cookie *http.Cookie) string {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	main.HandleHome(w, req)
	return w.Body.String()
}

func waitForMessages(t *testing.T, main handlers.Main, cookie *http.Cookie, n int) []models.Message {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := handlers.Messages(main, cookie.Value); len(msgs) == n {
			return msgs
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("transcript did not reach %d messages, got %d", n, len(handlers.Messages(main, cookie.Value)))
	return nil
}

func TestNewMain(t *testing.T) {
	main, err := handlers.NewMain(mockLLM{}, render.NewRenderer(render.Options{}), 0,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}

	if main.Shutdown(context.Background()) != nil {
		t.Error("Shutdown() should not return error")
	}

	if _, err := handlers.NewMain(nil, render.NewRenderer(render.Options{}), 0,
		slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Error("NewMain() without llm should return error")
	}
}

func TestHandleHome(t *testing.T) {
	main := newMain(t, mockLLM{reply: "hi"})

	tests := []struct {
		name       string
		method     string
		url        string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Home page",
			method:     http.MethodGet,
			url:        "/",
			wantStatus: http.StatusOK,
			wantBody:   "AI Chat Assistant",
		},
		{
			name:       "Client route",
			method:     http.MethodGet,
			url:        "/some/route",
			wantStatus: http.StatusOK,
			wantBody:   "chat-form",
		},
		{
			name:       "Invalid method",
			method:     http.MethodPost,
			url:        "/",
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.url, nil)
			w := httptest.NewRecorder()

			main.HandleHome(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleHome() status = %v, want %v", w.Code, tt.wantStatus)
			}

			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("HandleHome() body = %v, want to contain %v", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHandleChats(t *testing.T) {
	main := newMain(t, mockLLM{reply: "AI response"})
	cookie := openSession(t, main)

	tests := []struct {
		name       string
		method     string
		message    string
		wantStatus int
		wantBody   []string
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Empty message",
			method:     http.MethodPost,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Whitespace message",
			method:     http.MethodPost,
			message:    "   \n\t",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Message",
			method:     http.MethodPost,
			message:    "  Hello  ",
			wantStatus: http.StatusOK,
			wantBody:   []string{`class="message user"`, "Hello", `id="thinking"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := url.Values{"message": {tt.message}}
			req := httptest.NewRequest(tt.method, "/chats", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.AddCookie(cookie)
			w := httptest.NewRecorder()

			main.HandleChats(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleChats() status = %v, want %v", w.Code, tt.wantStatus)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(w.Body.String(), want) {
					t.Errorf("HandleChats() body = %v, want to contain %v", w.Body.String(), want)
				}
			}
		})
	}

	msgs := waitForMessages(t, main, cookie, 2)
	if msgs[0].Content != "Hello" || msgs[1].Content != "AI response" {
		t.Errorf("transcript = %+v, want Hello then AI response", msgs)
	}
}

func TestHandleChatsWritesFragmentBeforeResolving(t *testing.T) {
	w := httptest.NewRecorder()
	type written struct {
		body    string
		flushed bool
	}
	seen := make(chan written, 1)

	main := newMain(t, mockLLM{
		err: errors.New("connection refused"),
		onComplete: func() {
			seen <- written{body: w.Body.String(), flushed: w.Flushed}
		},
	})
	cookie := openSession(t, main)

	form := url.Values{"message": {"Hello"}}
	req := httptest.NewRequest(http.MethodPost, "/chats", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	main.HandleChats(w, req)

	select {
	case got := <-seen:
		if !strings.Contains(got.body, `id="thinking"`) {
			t.Errorf("body when the turn started resolving = %q, want the thinking indicator", got.body)
		}
		if !got.flushed {
			t.Error("the fragment should be flushed before the turn starts resolving")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("the turn was never resolved")
	}
}

func TestHandleChatsBusy(t *testing.T) {
	gate := make(chan struct{})
	main := newMain(t, mockLLM{reply: "done", gate: gate})
	cookie := openSession(t, main)

	if w := post(main.HandleChats, cookie, "/chats", url.Values{"message": {"first"}}); w.Code != http.StatusOK {
		t.Fatalf("first HandleChats() status = %v, want %v", w.Code, http.StatusOK)
	}
	if w := post(main.HandleChats, cookie, "/chats", url.Values{"message": {"second"}}); w.Code != http.StatusConflict {
		t.Errorf("second HandleChats() status = %v, want %v", w.Code, http.StatusConflict)
	}
	if body := home(main, cookie); !strings.Contains(body, `id="thinking"`) {
		t.Error("home page should show the thinking indicator while a turn is in flight")
	}

	close(gate)
	msgs := waitForMessages(t, main, cookie, 2)
	if msgs[0].Content != "first" {
		t.Errorf("first message = %q, want %q", msgs[0].Content, "first")
	}
}

func TestHandleChatsFailure(t *testing.T) {
	main := newMain(t, mockLLM{err: errors.New("API Error: 500 Internal Server Error - boom")})
	cookie := openSession(t, main)

	post(main.HandleChats, cookie, "/chats", url.Values{"message": {"Hello"}})

	deadline := time.Now().Add(2 * time.Second)
	body := home(main, cookie)
	for !strings.Contains(body, "error-message") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		body = home(main, cookie)
	}

	if !strings.Contains(body, "API Error: 500 Internal Server Error - boom") {
		t.Errorf("home page = %v, want the error text", body)
	}
	if !strings.Contains(body, "Hello") {
		t.Error("the user message should stay in the transcript after a failure")
	}
	if strings.Contains(body, `id="thinking"`) {
		t.Error("the thinking indicator should be gone after a failure")
	}
}

func TestHandleCopy(t *testing.T) {
	reply := "Here:\n```go\nfmt.Println(1)\n```"
	main := newMain(t, mockLLM{reply: reply})
	cookie := openSession(t, main)

	post(main.HandleChats, cookie, "/chats", url.Values{"message": {"code please"}})
	waitForMessages(t, main, cookie, 2)

	blockID := render.CodeBlocks(1, reply)[0].ID
	if body := home(main, cookie); !strings.Contains(body, `data-block="`+blockID+`"`) {
		t.Fatalf("home page does not contain block %s", blockID)
	}

	tests := []struct {
		name       string
		block      string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Known block",
			block:      blockID,
			wantStatus: http.StatusOK,
			wantBody:   "fmt.Println(1)",
		},
		{
			name:       "Unknown block",
			block:      "code-9-9-0",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(main.HandleCopy, cookie, "/chats/copy", url.Values{"block": {tt.block}})

			if w.Code != tt.wantStatus {
				t.Errorf("HandleCopy() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && w.Body.String() != tt.wantBody {
				t.Errorf("HandleCopy() body = %q, want %q", w.Body.String(), tt.wantBody)
			}
		})
	}

	if body := home(main, cookie); !strings.Contains(body, "Copied!") {
		t.Error("home page should mark the copied block")
	}
}

func TestHandleClear(t *testing.T) {
	main := newMain(t, mockLLM{reply: "AI response"})
	cookie := openSession(t, main)

	post(main.HandleChats, cookie, "/chats", url.Values{"message": {"Hello"}})
	waitForMessages(t, main, cookie, 2)
	post(main.HandleMenu, cookie, "/chats/menu", nil)

	w := post(main.HandleClear, cookie, "/chats/clear", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("HandleClear() status = %v, want %v", w.Code, http.StatusOK)
	}
	if strings.Contains(w.Body.String(), "Hello") {
		t.Errorf("HandleClear() body = %v, should not contain cleared messages", w.Body.String())
	}
	if len(handlers.Messages(main, cookie.Value)) != 0 {
		t.Error("transcript should be empty after clear")
	}
	if strings.Contains(home(main, cookie), "menu-dropdown") {
		t.Error("clear should close the menu")
	}
}

func TestHandleMenuAndTheme(t *testing.T) {
	main := newMain(t, mockLLM{})
	cookie := openSession(t, main)

	if w := post(main.HandleMenu, cookie, "/chats/menu", nil); !strings.Contains(w.Body.String(), "Clear Chat") {
		t.Errorf("HandleMenu() body = %v, want the open menu", w.Body.String())
	}
	if w := post(main.HandleMenuClose, cookie, "/chats/menu/close", nil); w.Code != http.StatusNoContent {
		t.Errorf("HandleMenuClose() status = %v, want %v", w.Code, http.StatusNoContent)
	}
	if strings.Contains(home(main, cookie), "menu-dropdown") {
		t.Error("menu should be closed")
	}

	post(main.HandleMenu, cookie, "/chats/menu", nil)
	if w := post(main.HandleTheme, cookie, "/chats/theme", nil); w.Body.String() != "dark" {
		t.Errorf("HandleTheme() body = %q, want dark", w.Body.String())
	}
	body := home(main, cookie)
	if !strings.Contains(body, `class="dark-theme"`) {
		t.Error("home page should use the dark theme")
	}
	if strings.Contains(body, "menu-dropdown") {
		t.Error("toggling the theme should close the menu")
	}
	if w := post(main.HandleTheme, cookie, "/chats/theme", nil); w.Body.String() != "light" {
		t.Errorf("HandleTheme() body = %q, want light", w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/chats/theme", nil)
	w := httptest.NewRecorder()
	main.HandleTheme(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("HandleTheme() status = %v, want %v", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleCSS(t *testing.T) {
	main := newMain(t, mockLLM{})

	w := httptest.NewRecorder()
	main.HandleCSS(w, httptest.NewRequest(http.MethodGet, "/static/chroma.css", nil))

	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/css") {
		t.Errorf("HandleCSS() content type = %v, want text/css", ct)
	}
	if !strings.Contains(w.Body.String(), ".chroma") {
		t.Error("HandleCSS() should write the chroma stylesheet")
	}
}

func TestHandleSSERequiresSession(t *testing.T) {
	main := newMain(t, mockLLM{})

	w := httptest.NewRecorder()
	main.HandleSSE(w, httptest.NewRequest(http.MethodGet, "/sse", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("HandleSSE() status = %v, want %v", w.Code, http.StatusBadRequest)
	}
}

func TestHandleHomeDoesNotCreateSessions(t *testing.T) {
	main := newMain(t, mockLLM{})

	for i := 0; i < 1000; i++ {
		w := httptest.NewRecorder()
		main.HandleHome(w, httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("HandleHome() status = %v, want %v", w.Code, http.StatusOK)
		}
	}

	cookie := openSession(t, main)
	home(main, cookie)

	if n := handlers.SessionCount(main); n != 0 {
		t.Errorf("sessions after page loads = %d, want 0", n)
	}

	post(main.HandleMenu, cookie, "/chats/menu", nil)
	if n := handlers.SessionCount(main); n != 1 {
		t.Errorf("sessions after a POST = %d, want 1", n)
	}
}

func TestIdleSessionsAreEvicted(t *testing.T) {
	main := newMain(t, mockLLM{reply: "AI response"})
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	handlers.SetSessionClock(main, func() time.Time { return now })

	idle := openSession(t, main)
	post(main.HandleChats, idle, "/chats", url.Values{"message": {"Hello"}})
	waitForMessages(t, main, idle, 2)

	now = now.Add(2 * time.Hour)
	active := openSession(t, main)
	post(main.HandleMenu, active, "/chats/menu", nil)

	if n := handlers.SessionCount(main); n != 1 {
		t.Errorf("sessions = %d, want 1", n)
	}
	if msgs := handlers.Messages(main, idle.Value); msgs != nil {
		t.Errorf("idle session transcript = %+v, want it evicted", msgs)
	}
	if body := home(main, idle); strings.Contains(body, "Hello") {
		t.Error("an evicted session should render an empty chat")
	}
}

func TestSessionsAreCapped(t *testing.T) {
	main := newMain(t, mockLLM{})
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	handlers.SetSessionClock(main, func() time.Time { return now })
	handlers.SetMaxSessions(main, 2)

	cookies := make([]*http.Cookie, 3)
	for i := range cookies {
		cookies[i] = openSession(t, main)
		post(main.HandleMenu, cookies[i], "/chats/menu", nil)
		now = now.Add(time.Minute)
	}

	if n := handlers.SessionCount(main); n != 2 {
		t.Errorf("sessions = %d, want 2", n)
	}
	if !strings.Contains(home(main, cookies[2]), "menu-dropdown") {
		t.Error("the newest session should be kept")
	}
	if strings.Contains(home(main, cookies[0]), "menu-dropdown") {
		t.Error("the least recently used session should be evicted")
	}
}
