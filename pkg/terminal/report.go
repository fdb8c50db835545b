package terminal

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

const (
	infoPrefix  = "[-] INFO: "
	errorPrefix = "[-] ERROR: "

	ansiGreen = "\x1b[32m"
	ansiRed   = "\x1b[31m"
	ansiReset = "\x1b[0m"
)

// Reporter prints the result of each operator action as exactly one line.
type Reporter struct {
	out      io.Writer
	color    bool
	failures int
}

// NewReporter returns a Reporter writing to f. Colors are used when mode is
// "always", or when mode is "auto" (or empty) and f is a terminal.
func NewReporter(f *os.File, mode string) *Reporter {
	color := false
	switch mode {
	case "always":
		color = true
	case "", "auto":
		color = isatty.IsTerminal(f.Fd()) && strings.ToLower(os.Getenv("TERM")) != "dumb"
	}
	if color {
		return &Reporter{out: colorable.NewColorable(f), color: true}
	}
	return &Reporter{out: f}
}

// NewPlainReporter returns a Reporter writing uncolored lines to w.
func NewPlainReporter(w io.Writer) *Reporter {
	return &Reporter{out: w}
}

// Infof prints an informational line.
func (r *Reporter) Infof(format string, args ...interface{}) {
	r.line(infoPrefix, ansiGreen, fmt.Sprintf(format, args...))
}

// Error prints err as an error line and counts it as a failure.
func (r *Reporter) Error(err error) {
	r.failures++
	r.line(errorPrefix, ansiRed, capitalize(err.Error()))
}

// Failures returns the number of errors reported so far.
func (r *Reporter) Failures() int {
	return r.failures
}

func (r *Reporter) line(prefix, color, msg string) {
	msg = strings.TrimRight(msg, "\n")
	if r.color {
		fmt.Fprintf(r.out, "%s%s%s%s\n", color, prefix, ansiReset, msg)
		return
	}
	fmt.Fprintf(r.out, "%s%s\n", prefix, msg)
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
