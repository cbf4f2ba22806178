package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/MegaGrindStone/llamachat"
	"github.com/MegaGrindStone/llamachat/internal/config"
	"github.com/MegaGrindStone/llamachat/internal/handlers"
	"github.com/MegaGrindStone/llamachat/internal/proxy"
)

// newMux routes the API prefix to the proxy. With a build directory every other path belongs to the
// client bundle, so its own static/ tree is not shadowed. Without one the embedded chat view is served
// and view must be set.
func newMux(cfg config.Config, prx *proxy.Proxy, view *handlers.Main, logger *slog.Logger) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.Handle(prx.Prefix(), prx)
	mux.Handle(prx.Prefix()+"/", prx)
	mux.HandleFunc("/_proxy/exchanges", prx.HandleExchanges)

	if cfg.BuildDir != "" {
		buildFS := os.DirFS(cfg.BuildDir)
		mux.Handle("/", proxy.NewSPA(buildFS, proxy.EntryDocument(buildFS, "index.html")))
		logger.Info("Serving client bundle", slog.String("dir", cfg.BuildDir))
		return mux, nil
	}

	if view == nil {
		return nil, errors.New("chat view is required without a build directory")
	}

	staticFS, err := fs.Sub(llamachat.StaticFS, "static")
	if err != nil {
		return nil, err
	}

	mux.HandleFunc("/static/chroma.css", view.HandleCSS)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	mux.HandleFunc("/chats", view.HandleChats)
	mux.HandleFunc("/chats/clear", view.HandleClear)
	mux.HandleFunc("/chats/menu", view.HandleMenu)
	mux.HandleFunc("/chats/menu/close", view.HandleMenuClose)
	mux.HandleFunc("/chats/theme", view.HandleTheme)
	mux.HandleFunc("/chats/copy", view.HandleCopy)
	mux.HandleFunc("/sse", view.HandleSSE)
	mux.HandleFunc("/", view.HandleHome)

	return mux, nil
}
