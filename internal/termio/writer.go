// Package termio holds small io.Writer adapters for terminal output,
// adapted from the teacher's util package: a newline translator for
// raw-mode PTY relaying and a log-file opener for --verbose diagnostics.
package termio

import (
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ReplaceWriter string-replaces From with To in every Write call before
// forwarding to the wrapped writer. shrun uses it to turn a shell's bare
// "\n" back into "\r\n" when relaying interactive-mode output straight to
// a real terminal that the engine has not itself put in raw/ONLCR mode.
type ReplaceWriter struct {
	Writer io.Writer
	From   string
	To     string
}

// NewReplaceWriter wraps writer, replacing From with To on every Write.
func NewReplaceWriter(writer io.Writer, from string, to string) *ReplaceWriter {
	return &ReplaceWriter{Writer: writer, From: from, To: to}
}

func (this *ReplaceWriter) Write(p []byte) (int, error) {
	s := strings.Replace(string(p), this.From, this.To, -1)
	if _, err := this.Writer.Write([]byte(s)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// InitLogging opens (or creates) a log file under the system temp dir and
// returns its path; callers pass the returned *os.File to log.SetOutput
// when --verbose is set. shrun logs engine diagnostics there instead of
// interleaving them with the PTY-proxied shell output on stdout.
func InitLogging(name string) (*os.File, string, error) {
	dir := os.TempDir()
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, "", err
	}
	return f, path, nil
}
