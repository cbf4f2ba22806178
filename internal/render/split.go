// Package render turns raw message content into paragraph and fenced code segments and renders them
// as highlighted HTML or terminal output.
package render

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Kind distinguishes paragraph segments from fenced code segments.
type Kind int

const (
	// KindParagraph is plain text rendered as a paragraph.
	KindParagraph Kind = iota
	// KindCode is a recognized fenced code block.
	KindCode
)

// DefaultLanguage is used for fenced blocks that declare no language.
const DefaultLanguage = "plaintext"

// Segment is one region of message content.
type Segment struct {
	Kind Kind
	// Index is the position of the region in the split sequence, counting dropped empty regions.
	Index int

	// Text is set for paragraphs.
	Text string

	// Language, Code and ID are set for code segments. Code is trimmed of surrounding whitespace.
	Language string
	Code     string
	ID       string
}

var (
	// A fenced region is the shortest run from one ``` to the next.
	fenceRe = regexp.MustCompile("(?s)```.*?```")
	// A region only counts as code when the opening fence is followed by an optional word and a newline.
	codeRe = regexp.MustCompile("(?s)\\A```(\\w*)\\n(.*)```\\z")
)

// Split breaks content into segments. scope identifies the owning message and is folded into block
// identifiers so that equal code in different messages gets distinct ids. An opening fence without a
// matching close, or a fenced region without a newline after the language tag, stays paragraph text.
func Split(scope int, content string) []Segment {
	var parts []string
	last := 0
	for _, loc := range fenceRe.FindAllStringIndex(content, -1) {
		parts = append(parts, content[last:loc[0]], content[loc[0]:loc[1]])
		last = loc[1]
	}
	parts = append(parts, content[last:])

	segments := make([]Segment, 0, len(parts))
	for i, part := range parts {
		if m := codeRe.FindStringSubmatch(part); m != nil {
			lang := m[1]
			if lang == "" {
				lang = DefaultLanguage
			}
			code := strings.TrimSpace(m[2])
			segments = append(segments, Segment{
				Kind:     KindCode,
				Index:    i,
				Language: lang,
				Code:     code,
				ID:       BlockID(scope, i, code),
			})
			continue
		}
		if strings.TrimSpace(part) == "" {
			continue
		}
		segments = append(segments, Segment{
			Kind:  KindParagraph,
			Index: i,
			Text:  part,
		})
	}
	return segments
}

// BlockID derives a code block identifier from its message, its position and its content.
func BlockID(scope, index int, code string) string {
	return fmt.Sprintf("code-%d-%d-%016x", scope, index, xxhash.Sum64String(code))
}

// CodeBlocks returns only the code segments of content.
func CodeBlocks(scope int, content string) []Segment {
	var blocks []Segment
	for _, s := range Split(scope, content) {
		if s.Kind == KindCode {
			blocks = append(blocks, s)
		}
	}
	return blocks
}
