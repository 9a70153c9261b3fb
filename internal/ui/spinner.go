// internal/ui/spinner.go
package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a one-line status while something is in flight, such as
// dialing the progress stream.
type Spinner struct {
	mu        sync.Mutex
	message   string
	detail    string
	running   bool
	done      chan struct{}
	writer    io.Writer
	startTime time.Time
}

// NewSpinner creates a spinner writing to stdout.
func NewSpinner() *Spinner {
	return &Spinner{writer: os.Stdout}
}

// SetWriter sets the output writer
func (s *Spinner) SetWriter(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer = w
}

// Start begins the spinner animation with a message
func (s *Spinner) Start(message string) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.message = message
	s.detail = ""
	s.running = true
	s.done = make(chan struct{})
	s.startTime = time.Now()
	s.mu.Unlock()

	go s.animate()
}

// UpdateDetail sets additional detail text (shown after message)
func (s *Spinner) UpdateDetail(detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detail = detail
}

// Stop stops the spinner and optionally shows a final message
func (s *Spinner) Stop(finalMessage string) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	s.mu.Unlock()

	clearLine(s.writer)
	if finalMessage != "" {
		fmt.Fprintln(s.writer, finalMessage)
	}
}

// Success stops with a green checkmark
func (s *Spinner) Success(message string) {
	s.Stop(color.GreenString("✓") + " " + message)
}

// Fail stops with a red X
func (s *Spinner) Fail(message string) {
	s.Stop(color.RedString("✗") + " " + message)
}

func (s *Spinner) animate() {
	frameIndex := 0
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			frame := spinnerFrames[frameIndex%len(spinnerFrames)]
			message := s.message
			detail := s.detail
			elapsed := time.Since(s.startTime)
			s.mu.Unlock()

			clearLine(s.writer)
			var detailStr string
			if detail != "" {
				detailStr = color.HiBlackString(" %s", detail)
			}
			var timeStr string
			if elapsed > time.Second {
				timeStr = color.HiBlackString(" (%s)", formatDuration(elapsed))
			}
			fmt.Fprintf(s.writer, "%s %s%s%s", color.CyanString(frame), message, detailStr, timeStr)
			frameIndex++
		}
	}
}

func clearLine(w io.Writer) {
	fmt.Fprint(w, "\r\033[K")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}

// StatusLine provides a simple one-line status update without animation
type StatusLine struct {
	writer io.Writer
}

// NewStatusLine creates a new status line writer
func NewStatusLine() *StatusLine {
	return &StatusLine{writer: os.Stdout}
}

// Success prints a success status
func (sl *StatusLine) Success(message string) {
	fmt.Fprintf(sl.writer, "%s %s\n", color.GreenString("✓"), message)
}

// Fail prints a failure status
func (sl *StatusLine) Fail(message string) {
	fmt.Fprintf(sl.writer, "%s %s\n", color.RedString("✗"), message)
}

// Warning prints a warning status
func (sl *StatusLine) Warning(message string) {
	fmt.Fprintf(sl.writer, "%s %s\n", color.YellowString("⚠"), message)
}

// Info prints an info status
func (sl *StatusLine) Info(message string) {
	fmt.Fprintf(sl.writer, "%s %s\n", color.BlueString("ℹ"), message)
}

// Step prints a step in a process (e.g., "Step 1/5: Spawning jobs...")
func (sl *StatusLine) Step(current, total int, message string) {
	progress := color.HiBlackString("[%d/%d]", current, total)
	fmt.Fprintf(sl.writer, "%s %s %s\n", color.CyanString("▸"), progress, message)
}
