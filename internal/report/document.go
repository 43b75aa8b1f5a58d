package report

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// MaxHeadingLevel caps heading depth.
const MaxHeadingLevel = 6

// Block is a heading (Level > 0) or a paragraph (Level 0).
type Block struct {
	Level int
	Text  string
}

// Document is a report split into headings and paragraphs.
type Document []Block

// ParseDocument splits text line by line: a line starting with '#' is a
// heading whose level is the number of leading '#', any other non-blank
// line is a paragraph.
func ParseDocument(text string) Document {
	var doc Document
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			level := len(line) - len(strings.TrimLeft(line, "#"))
			heading := strings.TrimSpace(line[level:])
			if heading == "" {
				continue
			}
			doc = append(doc, Block{Level: min(level, MaxHeadingLevel), Text: heading})
			continue
		}
		doc = append(doc, Block{Text: line})
	}
	return doc
}

// Markdown renders the document back to markdown.
func (d Document) Markdown() string {
	parts := make([]string, len(d))
	for i, b := range d {
		if b.Level > 0 {
			parts[i] = strings.Repeat("#", b.Level) + " " + b.Text
		} else {
			parts[i] = b.Text
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n\n") + "\n"
}

// Render formats markdown for the terminal.
func Render(markdown string, width int) (string, error) {
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return r.Render(markdown)
}
