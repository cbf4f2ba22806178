// Package proxy forwards API traffic to the inference upstream and serves the client bundle.
//
// Requests under the configured prefix are forwarded with the prefix removed. Responses carry
// permissive CORS headers regardless of what the upstream sent, and an unreachable upstream is
// reported as a plain 500. Everything else is a static file or the single-page entry document.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MegaGrindStone/llamachat/internal/models"
	"github.com/google/uuid"
)

// Journal stores metadata of forwarded exchanges.
type Journal interface {
	Record(ctx context.Context, ex models.Exchange) error
	Recent(ctx context.Context, limit int) ([]models.Exchange, error)
}

// Config configures a Proxy.
type Config struct {
	// Prefix is the path prefix that is forwarded, for example "/api".
	Prefix string
	// Upstream is the origin requests are forwarded to, for example "http://localhost:12434".
	Upstream string
	CORS     CORS
	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

// Proxy forwards requests under a prefix to a fixed upstream.
type Proxy struct {
	prefix   string
	upstream *url.URL
	cors     CORS

	rp      *httputil.ReverseProxy
	journal Journal

	logger *slog.Logger
}

// ProxyErrorBody is the response body sent when the upstream cannot be reached.
const ProxyErrorBody = "Proxy Error"

const defaultExchangesLimit = 50

type exchangeKey struct{}

// New creates a Proxy. journal may be nil.
func New(cfg Config, journal Journal, logger *slog.Logger) (*Proxy, error) {
	if cfg.Upstream == "" {
		return nil, errors.New("upstream is required")
	}
	upstream, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream %q: %w", cfg.Upstream, err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("upstream %q must be an absolute url", cfg.Upstream)
	}

	prefix := "/" + strings.Trim(cfg.Prefix, "/")
	if cfg.CORS == (CORS{}) {
		cfg.CORS = DefaultCORS()
	}

	p := &Proxy{
		prefix:   prefix,
		upstream: upstream,
		cors:     cfg.CORS,
		journal:  journal,
		logger:   logger.With(slog.String("module", "proxy")),
	}
	p.rp = &httputil.ReverseProxy{
		Rewrite:        p.rewrite,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.handleError,
		Transport:      cfg.Transport,
	}
	return p, nil
}

// Prefix returns the forwarded path prefix.
func (p *Proxy) Prefix() string {
	return p.prefix
}

// StripPrefix returns the upstream path for an inbound path under the prefix.
func (p *Proxy) StripPrefix(path string) string {
	rest := strings.TrimPrefix(path, p.prefix)
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return rest
}

// ServeHTTP forwards r to the upstream and relays the response.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ex := &models.Exchange{
		ID:       uuid.New().String(),
		Method:   r.Method,
		Path:     r.URL.Path,
		Upstream: p.StripPrefix(r.URL.Path),
		Time:     time.Now(),
	}

	// The upstream response sets these; drop values left by outer middleware so they are not doubled.
	for _, h := range corsHeaderKeys {
		w.Header().Del(h)
	}

	rec := newStatusRecorder(w)
	p.rp.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), exchangeKey{}, ex)))

	ex.Status = rec.status
	ex.Duration = time.Since(ex.Time)
	if p.journal != nil {
		if err := p.journal.Record(context.WithoutCancel(r.Context()), *ex); err != nil {
			p.logger.Error("Failed to record exchange", slog.String(errLoggerKey, err.Error()))
		}
	}
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	// Escaped separators such as %2F stay escaped on the way upstream.
	path := p.StripPrefix(pr.In.URL.Path)
	rawPath := p.StripPrefix(pr.In.URL.EscapedPath())
	if unescaped, err := url.PathUnescape(rawPath); err != nil || unescaped != path {
		rawPath = ""
	}
	pr.Out.URL.Path = path
	pr.Out.URL.RawPath = rawPath
	pr.SetURL(p.upstream)

	p.logger.Info("Proxying request",
		slog.String("method", pr.In.Method),
		slog.String("path", pr.In.URL.Path),
		slog.String("target", pr.Out.URL.String()),
		slog.Any("headers", pr.In.Header))
}

func (p *Proxy) modifyResponse(res *http.Response) error {
	p.cors.apply(res.Header)

	p.logger.Info("Proxy response",
		slog.Int("statusCode", res.StatusCode),
		slog.Any("headers", res.Header))
	return nil
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	p.logger.Error("Proxy error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String(errLoggerKey, err.Error()))

	if ex, ok := r.Context().Value(exchangeKey{}).(*models.Exchange); ok {
		ex.Err = err.Error()
	}

	p.cors.apply(w.Header())
	http.Error(w, ProxyErrorBody, http.StatusInternalServerError)
}

// HandleExchanges lists the most recent forwarded exchanges as JSON. The optional "limit" query
// parameter caps the result.
func (p *Proxy) HandleExchanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if p.journal == nil {
		http.Error(w, "Journal is disabled", http.StatusNotFound)
		return
	}

	limit := defaultExchangesLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	exchanges, err := p.journal.Recent(r.Context(), limit)
	if err != nil {
		p.logger.Error("Failed to list exchanges", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if exchanges == nil {
		exchanges = []models.Exchange{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(exchanges); err != nil {
		p.logger.Error("Failed to encode exchanges", slog.String(errLoggerKey, err.Error()))
	}
}
