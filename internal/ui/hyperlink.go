// internal/ui/hyperlink.go
package ui

import (
	"fmt"
	"os"
)

// Hyperlink wraps text in an OSC 8 escape sequence so terminals that
// support it render a clickable link pointing at url. Dumb terminals get
// the plain text, which keeps piped and logged output readable.
func Hyperlink(url, text string) string {
	if term := os.Getenv("TERM"); term == "" || term == "dumb" {
		return text
	}
	return fmt.Sprintf("\x1b]8;;%s\x07%s\x1b]8;;\x07", url, text)
}

// HyperlinkSelf renders url as a link whose visible text is the url itself.
func HyperlinkSelf(url string) string {
	return Hyperlink(url, url)
}
