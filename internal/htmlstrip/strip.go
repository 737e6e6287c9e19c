// Package htmlstrip renders HTML mail bodies as plain text for the
// text/plain alternative of outgoing messages.
package htmlstrip

import (
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// hidden elements contribute no text.
var hidden = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
	"title":    true,
}

// blocks end the current line.
var blocks = map[string]bool{
	"p": true, "div": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "li": true, "blockquote": true,
	"pre": true, "table": true, "tr": true, "ul": true, "ol": true,
	"section": true, "article": true, "header": true, "footer": true,
	"hr": true,
}

var headings = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// converter walks an HTML token stream and accumulates text lines.
type converter struct {
	tokenizer *html.Tokenizer
	out       bytes.Buffer
	done      bool
	hidden    int
	pending   bool // a space is owed before the next word
	lineStart bool
	breaks    int // line breaks owed before the next word
	started   bool
	href      []string
	quote     int
}

// NewReader converts HTML read from r into plain text on demand.
func NewReader(r io.Reader) io.Reader {
	return &converter{
		tokenizer: html.NewTokenizer(r),
		lineStart: true,
	}
}

// String converts an HTML document to plain text.
func String(s string) string {
	out, _ := io.ReadAll(NewReader(strings.NewReader(s)))
	return string(out)
}

func (c *converter) Read(p []byte) (int, error) {
	for c.out.Len() < len(p) && !c.done {
		c.step()
	}
	if c.out.Len() == 0 && c.done {
		return 0, io.EOF
	}
	return c.out.Read(p)
}

func (c *converter) step() {
	tt := c.tokenizer.Next()
	switch tt {
	case html.ErrorToken:
		c.done = true

	case html.StartTagToken, html.SelfClosingTagToken:
		name, hasAttr := c.tokenizer.TagName()
		tag := string(name)
		if hidden[tag] {
			if tt == html.StartTagToken {
				c.hidden++
			}
			return
		}
		attrs := c.attrs(hasAttr)
		switch tag {
		case "br":
			c.breakLine()
		case "li":
			c.newline()
			c.word("-")
		case "blockquote":
			c.newline()
			c.quote++
		case "img":
			if alt := attrs["alt"]; alt != "" {
				c.text(alt)
			}
		case "a":
			if tt == html.StartTagToken {
				c.href = append(c.href, attrs["href"])
			}
		case "td", "th":
			c.pending = !c.lineStart
		default:
			if blocks[tag] {
				c.newline()
			}
		}

	case html.EndTagToken:
		name, _ := c.tokenizer.TagName()
		tag := string(name)
		switch {
		case hidden[tag]:
			if c.hidden > 0 {
				c.hidden--
			}
		case tag == "a":
			if n := len(c.href); n > 0 {
				if href := c.href[n-1]; href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(href, "mailto:") {
					c.pending = true
					c.word("<" + href + ">")
					c.pending = false
				}
				c.href = c.href[:n-1]
			}
		case tag == "blockquote":
			if c.quote > 0 {
				c.quote--
			}
			c.newline()
		case tag == "p" || headings[tag]:
			c.paragraph()
		case blocks[tag]:
			c.newline()
		}

	case html.TextToken:
		if c.hidden == 0 {
			c.text(string(c.tokenizer.Text()))
		}
	}
}

func (c *converter) attrs(hasAttr bool) map[string]string {
	attrs := make(map[string]string)
	for hasAttr {
		var key, val []byte
		key, val, hasAttr = c.tokenizer.TagAttr()
		attrs[string(key)] = string(val)
	}
	return attrs
}

func (c *converter) text(s string) {
	if len(s) > 0 && isSpace(s[0]) {
		c.pending = true
	}
	for _, w := range strings.Fields(s) {
		c.word(w)
		c.pending = true
	}
	if len(s) == 0 || !isSpace(s[len(s)-1]) {
		c.pending = false
	}
}

func (c *converter) word(w string) {
	if c.started {
		c.out.WriteString(strings.Repeat("\n", c.breaks))
	}
	if c.lineStart {
		c.out.WriteString(strings.Repeat("> ", c.quote))
	} else if c.pending {
		c.out.WriteByte(' ')
	}
	c.out.WriteString(w)
	c.breaks = 0
	c.started = true
	c.lineStart = false
	c.pending = true
}

// breakLine owes a line break to the next word. Blank lines never stack
// beyond one and nothing trails the last word.
func (c *converter) breakLine() {
	if c.breaks < 2 {
		c.breaks++
	}
	c.lineStart = true
	c.pending = false
}

// newline ends the current line unless nothing has been written on it.
func (c *converter) newline() {
	if !c.lineStart {
		c.breakLine()
	}
}

// paragraph ends the current line and leaves one blank line.
func (c *converter) paragraph() {
	c.newline()
	if c.breaks == 1 {
		c.breakLine()
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f'
}
