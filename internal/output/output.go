// Package output provides consistent CLI output formatting.
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// ANSI codes, applied only when the destination is a terminal.
const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
)

// Writer provides formatted output for the CLI.
type Writer struct {
	out      io.Writer
	useColor bool
}

// New creates a Writer, enabling color when out is a terminal.
func New(out io.Writer) *Writer {
	return &Writer{out: out, useColor: isTerminal(out)}
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (w *Writer) color(code, s string) string {
	if !w.useColor {
		return s
	}
	return code + s + ansiReset
}

// Printf writes a formatted line.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, format, args...)
}

// Println writes a plain line.
func (w *Writer) Println(args ...any) {
	_, _ = fmt.Fprintln(w.out, args...)
}

// Heading writes a bold section heading.
func (w *Writer) Heading(msg string) {
	_, _ = fmt.Fprintln(w.out, w.color(ansiBold, msg))
}

// Success writes a success line.
func (w *Writer) Success(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, w.color(ansiGreen, fmt.Sprintf(format, args...)))
}

// Warning writes a warning line.
func (w *Writer) Warning(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, w.color(ansiYellow, fmt.Sprintf(format, args...)))
}

// Error writes an error line.
func (w *Writer) Error(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, w.color(ansiRed, fmt.Sprintf(format, args...)))
}

// Dim writes a de-emphasized line, for scores and metadata.
func (w *Writer) Dim(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, w.color(ansiDim, fmt.Sprintf(format, args...)))
}
