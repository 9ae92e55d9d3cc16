package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agruen/shrun/internal/queue"
	"github.com/agruen/shrun/internal/script"
)

func newCase(command string) *script.TestCase {
	tc := script.NewTestCase()
	tc.Command.AppendString(command)
	return tc
}

func TestReportBeginSingleLine(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, NewPalette(false), false)

	tc := newCase("echo hi\n")
	r.Begin(tc, 1)

	assert.Equal(t, "[1] $ echo hi -- ", out.String())
}

func TestReportBeginMultiLineAddsEllipsis(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, NewPalette(false), false)

	tc := newCase("echo a;\\\necho b\n")
	r.Begin(tc, 7)

	assert.Equal(t, "[7] $ echo a;\\... -- ", out.String())
}

func TestReportBeginSkipsPreamble(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, NewPalette(false), false)

	tc := script.NewTestCase()
	tc.Command.AppendString("timeout() { echo \"timeout $1\" >&109; }\n")
	tc.Preamble = tc.Command.Length()
	tc.Command.AppendString("echo hi\n")

	r.Begin(tc, 1)
	assert.Equal(t, "[1] $ echo hi -- ", out.String())
}

func TestReportEndOk(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, NewPalette(false), false)

	actual := queue.New()
	actual.AppendString("hi\n")
	expected := queue.New()
	expected.AppendString("hi\n")

	passed := r.End(actual, expected, true)
	assert.True(t, passed)
	assert.Equal(t, "ok\n", out.String())
}

func TestReportEndFailed(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, NewPalette(false), false)

	actual := queue.New()
	actual.AppendString("hi\n")
	expected := queue.New()
	expected.AppendString("bye\n")

	passed := r.End(actual, expected, true)
	assert.False(t, passed)

	// "hi" padded to the longest line width (3, from "bye") plus the
	// fixed " ? " / " | " separator, matching the original's
	// "%-*.*s %c %.*s" layout byte-for-byte.
	assert.Equal(t, "failed\nhi  ? bye\n", out.String())
}

func TestReportEndShortResult(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, NewPalette(false), false)

	actual := queue.New()
	actual.AppendString("hi")
	expected := queue.New()
	expected.AppendString("hi\n")

	passed := r.End(actual, expected, false)
	assert.False(t, passed)
	assert.Equal(t, "short result\n", out.String())
}

func TestReportEndMultiLineDiffPadsMissingSideWithTilde(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, NewPalette(false), false)

	actual := queue.New()
	actual.AppendString("a\nb\n")
	expected := queue.New()
	expected.AppendString("a\n")

	passed := r.End(actual, expected, true)
	assert.False(t, passed)
	assert.Equal(t, "failed\na | a\nb ? ~\n", out.String())
}

func TestReportEndColorWrapsMismatchedSides(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, NewPalette(true), false)

	actual := queue.New()
	actual.AppendString("hi\n")
	expected := queue.New()
	expected.AppendString("bye\n")

	r.End(actual, expected, true)
	s := out.String()
	assert.Contains(t, s, "\x1b[")
	assert.Contains(t, s, "hi")
	assert.Contains(t, s, "bye")
}

func TestReportEndVerboseAddsIntraLineDiff(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, NewPalette(false), true)

	actual := queue.New()
	actual.AppendString("hello\n")
	expected := queue.New()
	expected.AppendString("help\n")

	r.End(actual, expected, true)
	s := out.String()
	assert.Contains(t, s, "hello ? help")
	// the primary line is unchanged; the annotation is a trailing line
	lines := bytes.Split([]byte(s), []byte("\n"))
	assert.True(t, len(lines) > 2)
}
