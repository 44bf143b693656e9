package tts

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/text/unicode/norm"
)

// MaxTextRunes is the longest text, after normalization, handed to an
// engine.
const MaxTextRunes = 5000

var markdown = goldmark.New()

// Normalize prepares chat text for speech. Compatibility characters are
// folded (NFKC), markdown and inline HTML are reduced to their readable
// text, control characters dropped and whitespace collapsed.
func Normalize(s string) (string, error) {
	s = norm.NFKC.String(s)
	s = plainText(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")

	if s == "" {
		return "", ErrEmptyText
	}
	if n := utf8.RuneCountInString(s); n > MaxTextRunes {
		return "", fmt.Errorf("%w: %d characters (max %d)", ErrTextTooLong, n, MaxTextRunes)
	}
	return s, nil
}

// plainText extracts readable text from markdown using goldmark.
func plainText(src string) string {
	reader := text.NewReader([]byte(src))
	doc := markdown.Parser().Parse(reader)

	var buf strings.Builder
	walk(doc, reader.Source(), &buf)
	return buf.String()
}

func walk(node ast.Node, source []byte, buf *strings.Builder) {
	switch n := node.(type) {
	case *ast.HTMLBlock, *ast.RawHTML, *ast.Image:
		return

	case *ast.CodeBlock, *ast.FencedCodeBlock:
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(source))
		}
		buf.WriteByte(' ')
		return

	case *ast.Text:
		buf.Write(n.Segment.Value(source))
		if n.SoftLineBreak() || n.HardLineBreak() {
			buf.WriteByte(' ')
		}
		return

	case *ast.String:
		buf.Write(n.Value)
		return

	case *ast.AutoLink:
		buf.Write(n.Label(source))
		return
	}

	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		walk(c, source, buf)
	}
	if node.Type() == ast.TypeBlock {
		buf.WriteByte(' ')
	}
}
