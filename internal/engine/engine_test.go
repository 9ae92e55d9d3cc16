package engine

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agruen/shrun/internal/report"
	"github.com/agruen/shrun/internal/shellproc"
)

func shellPath(t *testing.T) string {
	t.Helper()
	for _, p := range []string{"/bin/sh", "/bin/bash"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	t.Skip("no POSIX shell found")
	return ""
}

func newEngine(t *testing.T, timeout time.Duration, stopAt int) (*Engine, *strings.Builder) {
	t.Helper()
	sh, err := shellproc.Spawn(shellPath(t), true)
	require.NoError(t, err)
	t.Cleanup(func() { sh.Close() })

	var out strings.Builder
	reporter := report.New(&out, report.NewPalette(false), false)
	return New(sh, reporter, timeout, stopAt), &out
}

func TestEnginePass(t *testing.T) {
	eng, out := newEngine(t, 5*time.Second, 0)

	result, err := eng.Run(strings.NewReader("$ echo hi\n> hi\n"))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 0, result.Failed)
	assert.Contains(t, out.String(), "[1] $ echo hi -- ok")
	assert.Contains(t, out.String(), "1 commands (1 passed, 0 failed)")
}

func TestEngineFail(t *testing.T) {
	eng, out := newEngine(t, 5*time.Second, 0)

	result, err := eng.Run(strings.NewReader("$ echo hi\n> bye\n"))
	require.NoError(t, err)

	assert.Equal(t, 0, result.Passed)
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, out.String(), "[1] $ echo hi -- failed")
	assert.Contains(t, out.String(), "hi  ? bye")
}

func TestEngineMultiLineCommand(t *testing.T) {
	eng, out := newEngine(t, 5*time.Second, 0)

	result, err := eng.Run(strings.NewReader("$ echo a;\\\n+ echo b\n> a\n> b\n"))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 0, result.Failed)
	assert.Contains(t, out.String(), "ok")
}

func TestEngineStdin(t *testing.T) {
	eng, out := newEngine(t, 5*time.Second, 0)

	result, err := eng.Run(strings.NewReader("$ cat\n< hello\n> hello\n"))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 0, result.Failed)
	assert.Contains(t, out.String(), "ok")
}

func TestEngineTimeout(t *testing.T) {
	eng, out := newEngine(t, 1*time.Second, 0)

	start := time.Now()
	result, err := eng.Run(strings.NewReader("$ sleep 30\n"))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.Less(t, elapsed, 5*time.Second)
	assert.Contains(t, out.String(), "command timed out")
}

func TestEngineDynamicTimeout(t *testing.T) {
	eng, out := newEngine(t, 5*time.Second, 0)

	start := time.Now()
	result, err := eng.Run(strings.NewReader("$ timeout 2; sleep 3; echo ok\n> ok\n"))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.Less(t, elapsed, 4*time.Second)
	assert.Contains(t, out.String(), "command timed out")
}

func TestEngineTimeoutVerboseReportsOrphan(t *testing.T) {
	sh, err := shellproc.Spawn(shellPath(t), true)
	require.NoError(t, err)
	t.Cleanup(func() { sh.Close() })

	var out strings.Builder
	reporter := report.New(&out, report.NewPalette(false), true)
	eng := New(sh, reporter, 1*time.Second, 0)

	result, err := eng.Run(strings.NewReader("$ sleep 30\n"))
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.Contains(t, out.String(), "orphaned child processes")
}

func TestEngineMarkerNeverVisible(t *testing.T) {
	eng, out := newEngine(t, 5*time.Second, 0)

	result, err := eng.Run(strings.NewReader("$ echo hi\n> hi\n$ echo bye\n> bye\n"))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Passed)
	assert.NotContains(t, out.String(), "\x04")
}

func TestEngineInteractiveBreakpointCountsNeitherPassNorFail(t *testing.T) {
	sh, err := shellproc.Spawn(shellPath(t), true)
	require.NoError(t, err)
	t.Cleanup(func() { sh.Close() })

	var out strings.Builder
	reporter := report.New(&out, report.NewPalette(false), false)

	// Break at line 1, the script's first "$" line: the engine hands the
	// terminal to the fake stdin below before sending anything, and once
	// that stdin hits local EOF it resumes normal testing, sending the
	// very case that was paused (and then the one after it).
	eng := New(sh, reporter, 5*time.Second, 1)
	eng.Stdin = strings.NewReader("echo from-interactive\n")

	var stdout strings.Builder
	eng.Stdout = &stdout

	result, err := eng.Run(strings.NewReader("$ echo hi\n> hi\n$ echo bye\n> bye\n"))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Passed)
	assert.Equal(t, 0, result.Failed)
	assert.Contains(t, out.String(), "interactive; press ^D to continue")
	assert.Contains(t, stdout.String(), "from-interactive")
}

func TestEngineNoScriptIsImmediateNoop(t *testing.T) {
	eng, _ := newEngine(t, 5*time.Second, 0)

	result, err := eng.Run(strings.NewReader(""))
	require.NoError(t, err)

	assert.Equal(t, 0, result.Passed)
	assert.Equal(t, 0, result.Failed)
}
