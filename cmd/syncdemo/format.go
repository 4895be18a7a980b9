package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// isTerminal reports whether stdout is an interactive terminal — used to
// decide between the aligned table renderer and plain tab-separated output
// for scripted consumers.
func isTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

// formatRelativeTime renders t as a relative, human-readable duration (e.g.
// "3 minutes ago"), returning "never" for the zero value.
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	return humanize.Time(t)
}

// formatCount pluralizes n occurrences of noun for status/summary lines.
func formatCount(n int, noun string) string {
	return fmt.Sprintf("%s %s", humanize.Comma(int64(n)), pluralize(n, noun))
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return noun
	}

	return noun + "s"
}

// printTable writes aligned columns to w when stdout is a terminal, or
// plain tab-separated rows otherwise — grounded on the teacher's
// printTable (format.go) plus TTY-awareness it never exercised.
func printTable(w io.Writer, headers []string, rows [][]string) {
	if !isTerminal() {
		printPlain(w, headers, rows)

		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.Join(parts, "  "))
}

func printPlain(w io.Writer, headers []string, rows [][]string) {
	fmt.Fprintln(w, strings.Join(headers, "\t"))

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
}
