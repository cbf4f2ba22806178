package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark"
)

// Options configures a Renderer.
type Options struct {
	// Style is a chroma style name. Unknown names fall back to chroma's default.
	Style string
	// Markdown renders paragraph text as Markdown instead of escaped plain text.
	Markdown bool
}

// Renderer produces highlighted output for segments. The zero value is not usable; use NewRenderer.
type Renderer struct {
	style    *chroma.Style
	html     *chromahtml.Formatter
	terminal chroma.Formatter
	markdown goldmark.Markdown
}

// NewRenderer creates a Renderer. Highlighted HTML uses CSS classes, so pages must include the
// stylesheet written by CSS.
func NewRenderer(opts Options) Renderer {
	r := Renderer{
		style:    styles.Get(opts.Style),
		html:     chromahtml.New(chromahtml.WithClasses(true)),
		terminal: formatters.Get("terminal256"),
	}
	if opts.Markdown {
		r.markdown = goldmark.New()
	}
	return r
}

func lexer(language string) chroma.Lexer {
	l := lexers.Get(language)
	if l == nil {
		l = lexers.Fallback
	}
	return chroma.Coalesce(l)
}

func (r Renderer) highlight(w io.Writer, f chroma.Formatter, language, code string) error {
	it, err := lexer(language).Tokenise(nil, code)
	if err != nil {
		return fmt.Errorf("failed to tokenise %s code: %w", language, err)
	}
	if err := f.Format(w, r.style, it); err != nil {
		return fmt.Errorf("failed to format %s code: %w", language, err)
	}
	return nil
}

// HTML returns highlighted HTML for a code block.
func (r Renderer) HTML(language, code string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.highlight(&buf, r.html, language, code); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

// Terminal writes a code block highlighted for a 256-colour terminal.
func (r Renderer) Terminal(w io.Writer, language, code string) error {
	return r.highlight(w, r.terminal, language, code)
}

// Paragraph returns the HTML for a paragraph segment. Literal backticks are kept as text.
func (r Renderer) Paragraph(text string) (template.HTML, error) {
	if r.markdown == nil {
		return template.HTML("<p>" + template.HTMLEscapeString(text) + "</p>"), nil
	}
	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown: %w", err)
	}
	return template.HTML(buf.String()), nil
}

// CSS writes the stylesheet for the highlighted HTML.
func (r Renderer) CSS(w io.Writer) error {
	return r.html.WriteCSS(w, r.style)
}
