package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/MegaGrindStone/llamachat/internal/chat"
	"github.com/MegaGrindStone/llamachat/internal/models"
	"github.com/MegaGrindStone/llamachat/internal/render"
)

const helpText = `Commands:
  /clear     clear the conversation
  /copy N    copy code block N to the clipboard
  /help      show this help
  /quit      exit`

// repl drives a chat session from lines of terminal input.
type repl struct {
	sess     *chat.Session
	renderer render.Renderer
	out      io.Writer

	// clipboard is false when the system has no clipboard; /copy then prints the code instead.
	clipboard bool

	// blocks holds the ids of printed code blocks; block N of the prompt is blocks[N-1].
	blocks []string
}

func newREPL(sess *chat.Session, renderer render.Renderer, out io.Writer, clipboard bool) *repl {
	return &repl{sess: sess, renderer: renderer, out: out, clipboard: clipboard}
}

// handle processes one line of input and reports whether the loop should continue.
func (r *repl) handle(ctx context.Context, input string) bool {
	input = strings.TrimSpace(input)
	if input == "" {
		return true
	}

	if strings.HasPrefix(input, "/") {
		return r.command(input)
	}

	reply, err := r.sess.Send(ctx, input)
	if err != nil {
		msg := r.sess.Snapshot().Error
		if msg == "" {
			msg = err.Error()
		}
		fmt.Fprintf(r.out, "Error: %s\n", msg)
		return true
	}

	r.printReply(len(r.sess.Snapshot().Messages)-1, reply)
	return true
}

func (r *repl) command(input string) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit":
		return false
	case "/help":
		fmt.Fprintln(r.out, helpText)
	case "/clear":
		r.sess.Clear()
		r.blocks = nil
		fmt.Fprintln(r.out, "Chat cleared.")
	case "/copy":
		if err := r.copy(fields[1:]); err != nil {
			fmt.Fprintf(r.out, "Error: %v\n", err)
		}
	default:
		fmt.Fprintf(r.out, "Unknown command %s. Type /help for commands.\n", fields[0])
	}
	return true
}

func (r *repl) copy(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: /copy N")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(r.blocks) {
		return fmt.Errorf("no code block %s", args[0])
	}

	code, err := r.sess.Copy(r.blocks[n-1])
	if err != nil {
		return err
	}
	if !r.clipboard {
		fmt.Fprintf(r.out, "No clipboard available. Block %d:\n%s\n", n, code)
		return nil
	}
	fmt.Fprintf(r.out, "Copied block %d.\n", n)
	return nil
}

// printReply prints the assistant message at transcript position index, numbering its code blocks.
func (r *repl) printReply(index int, msg models.Message) {
	fmt.Fprintf(r.out, "[%s] assistant:\n", msg.FormattedTime())

	for _, seg := range render.Split(index, msg.Content) {
		if seg.Kind == render.KindParagraph {
			fmt.Fprintln(r.out, strings.TrimSpace(seg.Text))
			continue
		}

		r.blocks = append(r.blocks, seg.ID)
		fmt.Fprintf(r.out, "--- [%d] %s ---\n", len(r.blocks), seg.Language)
		if err := r.renderer.Terminal(r.out, seg.Language, seg.Code); err != nil {
			fmt.Fprintln(r.out, seg.Code)
		}
		fmt.Fprintln(r.out)
	}
}
