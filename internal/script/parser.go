// Package script implements the literate test-script parser (component C2
// of the test-driver engine): it turns a stream of script bytes into a
// sequence of test cases, each a command block, an expected-output block,
// and an optional stdin block.
package script

import (
	"bytes"

	"github.com/agruen/shrun/internal/queue"
)

// TestCase holds the three byte-queues a single parsed case is made of,
// plus the preamble length the engine has primed the command queue with
// (see Parser.Parse and the "Preamble" entry in the glossary).
type TestCase struct {
	Command  *queue.Queue
	Expected *queue.Queue
	Stdin    *queue.Queue
	Preamble int
}

// NewTestCase allocates a TestCase with empty, ready-to-use queues.
func NewTestCase() *TestCase {
	return &TestCase{
		Command:  queue.New(),
		Expected: queue.New(),
		Stdin:    queue.New(),
	}
}

// Reset rewinds all three queues and clears the preamble length, between
// one reported case and the next.
func (this *TestCase) Reset() {
	this.Command.Reset()
	this.Expected.Reset()
	this.Stdin.Reset()
	this.Preamble = 0
}

// Parser tracks the script-wide line counter and the caller's interactive
// breakpoint across calls to Parse. It holds no queues itself - those
// belong to the TestCase and the script buffer the caller passes in.
type Parser struct {
	lineno      int
	firstLineno int
	stopAt      int // 0 disables the breakpoint
}

// New returns a parser starting at line 1. stopAt is the 1-based script
// line to break at for interactive mode; pass 0 to disable it.
func New(stopAt int) *Parser {
	return &Parser{lineno: 1, stopAt: stopAt}
}

// FirstLineno is the script line number of the `$` that opened the most
// recently started command, used both as the case's display id and by the
// engine to detect the interactive breakpoint.
func (this *Parser) FirstLineno() int {
	return this.firstLineno
}

// DisableStopAt clears the breakpoint so it cannot fire again, used once
// the engine has handed off to (and returned from) interactive mode.
func (this *Parser) DisableStopAt() {
	this.stopAt = 0
}

// AtStopAt reports whether the breakpoint line has been reached by the
// most recently opened command.
func (this *Parser) AtStopAt() bool {
	return this.stopAt != 0 && this.stopAt <= this.firstLineno
}

// Parse consumes as many whole lines as are available in script, appending
// to tc's queues, and reports whether a complete test case is ready.
//
// It returns (true, nil) when:
//   - a `$` line arrives while a command is already in progress (the new
//     line is left unconsumed, to be read by the next case), or
//   - the script is genuinely exhausted (eof is true and every buffered
//     byte has been consumed).
//
// It returns (false, nil) when more script bytes are needed, or when the
// line that would start the next command falls on or past the caller's
// breakpoint (callers must check AtStopAt after every Parse call,
// regardless of the returned value, since the breakpoint line is recorded
// but deliberately left unconsumed).
func (this *Parser) Parse(script *queue.Queue, eof bool, tc *TestCase) (bool, error) {
	for {
		buf := script.Readable()
		if buf == nil {
			break
		}

		var sz int
		if nl := bytes.IndexByte(buf, '\n'); nl >= 0 {
			sz = nl + 1
		} else if eof {
			sz = len(buf)
		} else {
			break
		}

		line := buf[:sz]
		l := 0
		for l < len(line) && (line[l] == ' ' || line[l] == '\t') {
			l++
		}

		if l < len(line) {
			c := line[l]
			inProgress := tc.Command.Length() > tc.Preamble

			if c == '$' || inProgress {
				switch c {
				case '$', '+':
					if c == '$' && inProgress {
						// The accumulator is complete: stop before
						// consuming this line so the next Parse call
						// picks it up as the start of the next case.
						return true, nil
					}
					if c == '$' {
						this.firstLineno = this.lineno
						if this.AtStopAt() {
							return false, nil
						}
					}
					appendLine(tc.Command, line[l:])

				case '>':
					appendLine(tc.Expected, line[l:])

				case '<':
					appendLine(tc.Stdin, line[l:])
				}
			}
		}

		script.CommitRead(sz)
		this.lineno++
	}

	return eof, nil
}

// appendLine strips the one-character prefix (and at most one following
// space), then appends the remainder to dst, synthesizing a trailing
// newline if the source line didn't carry one (only possible at script
// EOF without a final newline).
func appendLine(dst *queue.Queue, line []byte) {
	line = line[1:]
	if len(line) > 0 && line[0] == ' ' {
		line = line[1:]
	}

	appendNewline := len(line) == 0 || line[len(line)-1] != '\n'

	need := len(line)
	if appendNewline {
		need++
	}
	buf := dst.Reserve(need)
	n := copy(buf, line)
	if appendNewline {
		buf[n] = '\n'
		n++
	}
	dst.CommitWrite(n)
}
