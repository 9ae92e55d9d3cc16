// Package report implements the diff reporter (component C5): the
// per-test begin/end messaging and the side-by-side line diff with an
// equality column, as specified in §4.5.
package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/agruen/shrun/internal/queue"
	"github.com/agruen/shrun/internal/script"
)

// Reporter writes C5's begin/end messages to Out, styled through Palette.
// When Verbose is set, mismatched lines also get an intra-line character
// diff appended as a trailing annotation; the primary "actual ? expected"
// line is never altered, so the literal scenarios in §8 hold regardless
// of verbosity.
type Reporter struct {
	Out     io.Writer
	Palette *Palette
	Verbose bool
}

// New returns a Reporter writing to out.
func New(out io.Writer, palette *Palette, verbose bool) *Reporter {
	return &Reporter{Out: out, Palette: palette, Verbose: verbose}
}

// Begin prints the case header: "[L] $ first-line ... -- " where L is
// firstLineno and first-line is tc.Command's first line past the
// preamble, with "..." appended if the command has further lines.
func (this *Reporter) Begin(tc *script.TestCase, firstLineno int) {
	buf := tc.Command.Readable()
	buf = buf[tc.Preamble:]

	nl := bytes.IndexByte(buf, '\n')
	end := len(buf) - 1
	more := false
	if nl >= 0 {
		end = nl
		more = nl != len(buf)-1
	}

	fmt.Fprintf(this.Out, "[%d] $ %s%s -- ", firstLineno, buf[:end], ellipsisIf(more))
}

func ellipsisIf(more bool) string {
	if more {
		return "..."
	}
	return ""
}

// End compares actual against expected and prints the verdict: "short
// result" (red) if the case never saw its end marker, "ok" (green) if the
// streams are byte-identical, or "failed" (red) followed by a padded
// side-by-side line diff. It returns true for a pass.
func (this *Reporter) End(actual, expected *queue.Queue, testcaseEOF bool) bool {
	actualBytes := actual.Bytes()
	expectedBytes := expected.Bytes()

	if !testcaseEOF {
		fmt.Fprintln(this.Out, this.Palette.Red("short result"))
		return false
	}

	if bytes.Equal(actualBytes, expectedBytes) {
		fmt.Fprintln(this.Out, this.Palette.Green("ok"))
		return true
	}

	fmt.Fprintln(this.Out, this.Palette.Red("failed"))

	width := maxLineWidth(actualBytes)
	if w := maxLineWidth(expectedBytes); w > width {
		width = w
	}

	a1, a2 := actualBytes, expectedBytes
	for len(a1) > 0 || len(a2) > 0 {
		l1, rest1 := nextLine(a1)
		l2, rest2 := nextLine(a2)

		line1, line2 := l1, l2
		if len(a1) == 0 {
			line1 = []byte("~")
		}
		if len(a2) == 0 {
			line2 = []byte("~")
		}

		equal := len(a1) > 0 && len(a2) > 0 && bytes.Equal(l1, l2)

		left := padRight(string(line1), width)
		sep := "?"
		leftOut, rightOut := this.Palette.Red(left), this.Palette.Green(string(line2))
		if equal {
			sep = "|"
			leftOut, rightOut = left, string(line2)
		}

		fmt.Fprintf(this.Out, "%s %s %s\n", leftOut, sep, rightOut)

		if this.Verbose && !equal && len(a1) > 0 && len(a2) > 0 {
			this.printIntraLineDiff(l1, l2)
		}

		a1, a2 = rest1, rest2
	}

	return false
}

// nextLine splits off the first line (without its trailing newline) and
// returns the remainder. If b is empty it returns (nil, nil), signaling
// "this side has run out of lines" to the caller, which substitutes "~".
func nextLine(b []byte) (line, rest []byte) {
	if len(b) == 0 {
		return nil, nil
	}
	if nl := bytes.IndexByte(b, '\n'); nl >= 0 {
		return b[:nl], b[nl+1:]
	}
	return b, nil
}

func maxLineWidth(b []byte) int {
	width := 0
	for _, line := range bytes.Split(b, []byte("\n")) {
		if w := runewidth.StringWidth(string(line)); w > width {
			width = w
		}
	}
	return width
}

func padRight(s string, width int) string {
	return runewidth.FillRight(s, width)
}

// printIntraLineDiff renders a character-level diff of a mismatched pair
// under --verbose, using the same diffmatchpatch library the teacher uses
// for its gencmd/edit diffing (diffStrings in commands.go).
func (this *Reporter) printIntraLineDiff(l1, l2 []byte) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(l1), string(l2), false)

	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			b.WriteString(this.Palette.Red(d.Text))
		case diffmatchpatch.DiffInsert:
			b.WriteString(this.Palette.Green(d.Text))
		case diffmatchpatch.DiffEqual:
			b.WriteString(d.Text)
		}
	}
	fmt.Fprintf(this.Out, "      %s\n", b.String())
}
