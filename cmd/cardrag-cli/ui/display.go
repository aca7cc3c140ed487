package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"unicode/utf8"
)

var out io.Writer = os.Stdout

// Table displays data in a formatted table.
func Table(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, bold(strings.Join(headers, "\t")))

	separator := make([]string, len(headers))
	for i := range separator {
		separator[i] = strings.Repeat("-", len(headers[i]))
	}
	fmt.Fprintln(w, strings.Join(separator, "\t"))

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	_ = w.Flush()
}

// Section displays a section header.
func Section(title string) {
	fmt.Fprintf(out, "\n%s\n%s\n", bold(title), strings.Repeat("=", utf8.RuneCountInString(title)))
}

// KeyValue displays a key-value pair.
func KeyValue(key, value string) {
	fmt.Fprintf(out, "  %s: %s\n", cyan(key), value)
}

// List displays items as bullets.
func List(items []string) {
	for _, item := range items {
		fmt.Fprintf(out, "  • %s\n", item)
	}
}

// Success displays a success message.
func Success(format string, args ...interface{}) {
	fmt.Fprintf(out, "%s %s\n", green("✓"), fmt.Sprintf(format, args...))
}

// Warning displays a warning message.
func Warning(format string, args ...interface{}) {
	fmt.Fprintf(out, "%s %s\n", yellow("⚠"), fmt.Sprintf(format, args...))
}

// Error displays an error message to stderr.
func Error(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", red("✗"), fmt.Sprintf(format, args...))
}

// Info displays an informational message.
func Info(format string, args ...interface{}) {
	fmt.Fprintf(out, "ℹ %s\n", fmt.Sprintf(format, args...))
}

// Debug prints only in verbose mode.
func Debug(format string, args ...interface{}) {
	if verboseFlag {
		fmt.Fprintln(out, faint(fmt.Sprintf(format, args...)))
	}
}

// PassFail renders a colored verdict.
func PassFail(ok bool) string {
	if ok {
		return green("PASS")
	}
	return red("FAIL")
}

// Truncate shortens s to n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
