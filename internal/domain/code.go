// Package domain contains the core playground types shared across packages.
package domain

import "fmt"

// Language identifies one of the three code buffers. The string values are
// the exact wire values used by the assistant response contract.
type Language string

const (
	// HTML is the markup buffer.
	HTML Language = "HTML"
	// CSS is the style buffer.
	CSS Language = "CSS"
	// JavaScript is the script buffer.
	JavaScript Language = "JavaScript"
)

// Languages lists every buffer kind in display order.
var Languages = []Language{HTML, CSS, JavaScript}

// ParseLanguage converts a wire value into a Language. Matching is exact.
func ParseLanguage(s string) (Language, error) {
	switch Language(s) {
	case HTML, CSS, JavaScript:
		return Language(s), nil
	}
	return "", fmt.Errorf("unknown language %q", s)
}

// Valid reports whether l names one of the three buffers.
func (l Language) Valid() bool {
	_, err := ParseLanguage(string(l))
	return err == nil
}

// CodeUpdate replaces one buffer wholesale.
type CodeUpdate struct {
	Language Language `json:"language"`
	Content  string   `json:"content"`
}

// Buffers is a verbatim snapshot of the three code buffers.
type Buffers struct {
	HTML       string `json:"html"`
	CSS        string `json:"css"`
	JavaScript string `json:"javascript"`
}

// Get returns the buffer for lang.
func (b Buffers) Get(lang Language) string {
	switch lang {
	case HTML:
		return b.HTML
	case CSS:
		return b.CSS
	case JavaScript:
		return b.JavaScript
	}
	return ""
}

// With returns a copy of b with the buffer for lang replaced.
func (b Buffers) With(lang Language, text string) Buffers {
	switch lang {
	case HTML:
		b.HTML = text
	case CSS:
		b.CSS = text
	case JavaScript:
		b.JavaScript = text
	}
	return b
}

// DefaultBuffers returns the content a fresh workspace starts with.
func DefaultBuffers() Buffers {
	return Buffers{
		HTML:       "<h1>WELCOME TO VADE</h1>\n<p>Ask AVA to build something.</p>",
		CSS:        "body {\n  font-family: sans-serif;\n  color: #333;\n  background-color: #f0f0f0;\n}",
		JavaScript: "// Your JavaScript code here\nconsole.log(\"Welcome to VADE!\");",
	}
}
