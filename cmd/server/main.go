package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MegaGrindStone/llamachat/internal/config"
	"github.com/MegaGrindStone/llamachat/internal/handlers"
	"github.com/MegaGrindStone/llamachat/internal/proxy"
	"github.com/MegaGrindStone/llamachat/internal/render"
	"github.com/MegaGrindStone/llamachat/internal/services"
)

func main() {
	logLevel := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	if err := run(logger, logLevel); err != nil {
		logger.Error("Server failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger, logLevel *slog.LevelVar) error {
	cfgPath, err := config.Path()
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	logLevel.Set(level)

	var journal proxy.Journal
	if cfg.Journal.Enabled {
		journalPath, err := cfg.JournalPath()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(journalPath), 0o755); err != nil {
			return fmt.Errorf("error creating journal directory: %w", err)
		}
		boltJournal, err := services.NewBoltJournal(journalPath, cfg.Journal.Keep)
		if err != nil {
			return err
		}
		defer boltJournal.Close()
		journal = boltJournal
	}

	prx, err := proxy.New(proxy.Config{
		Prefix:   cfg.Proxy.Prefix,
		Upstream: cfg.Proxy.Upstream,
		CORS:     proxy.DefaultCORS(),
	}, journal, logger)
	if err != nil {
		return err
	}

	// The client bundle talks to the upstream through the proxy, so the embedded chat view and its
	// completer are only built without one.
	var view *handlers.Main
	if cfg.BuildDir == "" {
		llm, err := cfg.LLM.Completer(cfg.Chat.SystemPrompt, logger)
		if err != nil {
			return fmt.Errorf("error creating %s completer: %w", cfg.LLM.ProviderName(), err)
		}

		renderer := render.NewRenderer(render.Options{Style: cfg.Render.Style, Markdown: cfg.Render.Markdown})
		m, err := handlers.NewMain(llm, renderer, cfg.Chat.CopyResetDelay, logger)
		if err != nil {
			return err
		}
		view = &m
	}

	mux, err := newMux(cfg, prx, view, logger)
	if err != nil {
		return err
	}

	handler := proxy.Chain(
		proxy.LoggingMiddleware(logger),
		proxy.CORSMiddleware(proxy.DefaultCORS()),
	)(mux)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if view != nil {
		srv.RegisterOnShutdown(func() {
			if err := view.Shutdown(context.Background()); err != nil {
				logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
			}
		})
	}

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server running",
			slog.String("url", "http://localhost:"+cfg.Port),
			slog.String("proxy", cfg.Proxy.Prefix+" -> "+cfg.Proxy.Upstream))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				return fmt.Errorf("forcing server close: %w", err)
			}
		}
	}

	return nil
}
