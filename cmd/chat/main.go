// Command chat is a terminal client for the same chat sessions the web view drives.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MegaGrindStone/llamachat/internal/chat"
	"github.com/MegaGrindStone/llamachat/internal/config"
	"github.com/MegaGrindStone/llamachat/internal/render"
	"github.com/atotto/clipboard"
	"github.com/peterh/liner"
)

type systemClipboard struct{}

func (systemClipboard) WriteText(text string) error {
	return clipboard.WriteAll(text)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
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
	// The prompt owns the terminal, so only warnings and errors are logged.
	if level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	llm, err := cfg.LLM.Completer(cfg.Chat.SystemPrompt, logger)
	if err != nil {
		return fmt.Errorf("error creating %s completer: %w", cfg.LLM.ProviderName(), err)
	}

	var cb chat.Clipboard
	if !clipboard.Unsupported {
		cb = systemClipboard{}
	}

	sess, err := chat.NewSession(chat.Options{
		Completer:      llm,
		Clipboard:      cb,
		CopyResetDelay: cfg.Chat.CopyResetDelay,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	r := newREPL(sess, render.NewRenderer(render.Options{Style: cfg.Render.Style}), os.Stdout, cb != nil)

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	defer line.Close()

	historyFile := ""
	if dir, err := config.Dir(); err == nil {
		historyFile = filepath.Join(dir, "chat_history")
		if f, err := os.Open(historyFile); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
	}
	defer saveHistory(line, historyFile)

	fmt.Fprintln(os.Stdout, "AI Chat Assistant. Type /help for commands.")
	for {
		input, err := line.Prompt("> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			return err
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}

		if !r.handle(context.Background(), input) {
			return nil
		}
	}
}

func saveHistory(line *liner.State, historyFile string) {
	if historyFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(historyFile), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()

	_, _ = line.WriteHistory(f)
}
