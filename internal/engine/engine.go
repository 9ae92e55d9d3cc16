// Package engine implements the I/O multiplexer (component C4): the
// single-threaded loop that drives one test case at a time through a
// shell, recognizing the end-marker, enforcing per-case timeouts, and
// handing off to interactive mode at a breakpoint.
//
// The original source runs this as one pselect loop over raw file
// descriptors with a blocked/unblocked signal mask around the wait. Go
// has no direct equivalent of multiplexing arbitrary descriptors without
// cgo, so each stream gets its own reader goroutine feeding a channel
// (the same shape as the teacher's readerToChannel/ShellMultiplexer), and
// the one select statement in Run plays the role of pselect: it remains
// the engine's only suspension point.
package engine

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agruen/shrun/internal/queue"
	"github.com/agruen/shrun/internal/report"
	"github.com/agruen/shrun/internal/script"
	"github.com/agruen/shrun/internal/shellproc"
)

const endMarkerCmd = "echo $'\\4'\n"

// chunk is a single event from a reader goroutine: either data, EOF, or a
// read error. It is the Go stand-in for the original's readiness bit on
// a file descriptor.
type chunk struct {
	data []byte
	eof  bool
	err  error
}

// Engine holds every piece of state the original threaded through
// shrun()'s locals and the process-wide opt_*/first_lineno globals: the
// queues, the parser, the shell collaborator, the counters, and the
// current per-case timeout (mutable via the control channel).
type Engine struct {
	Shell    *shellproc.Shell
	Reporter *report.Reporter
	Parser   *script.Parser

	// Stdin/Stdout are the process's own terminal descriptors, used only
	// by interactive mode; they default to os.Stdin/os.Stdout.
	Stdin  io.Reader
	Stdout io.Writer

	Timeout time.Duration

	scriptQueue  *queue.Queue
	controlQueue *queue.Queue
	outputQueue  *queue.Queue
	tc           *script.TestCase

	readingTestcase bool
	scriptEOF       bool
	inEOF           bool
	testcaseEOF     bool

	passed, failed int
	timedOut       bool
	interrupted    bool
}

// Result is the final tally Run returns. Run itself prints the exit-time
// summary line, mirroring shrun(); the caller (main.go) maps the result to
// an exit code.
type Result struct {
	Passed      int
	Failed      int
	TimedOut    bool
	Interrupted bool
}

// New builds an engine ready to drive shell through script, with a
// per-case timeout of timeout and an optional interactive breakpoint at
// stopAtLine (0 disables it).
func New(shell *shellproc.Shell, reporter *report.Reporter, timeout time.Duration, stopAtLine int) *Engine {
	tc := script.NewTestCase()
	tc.Command.AppendString(shellproc.Preamble())
	tc.Preamble = tc.Command.Length()

	return &Engine{
		Shell:           shell,
		Reporter:        reporter,
		Parser:          script.New(stopAtLine),
		Stdin:           os.Stdin,
		Stdout:          os.Stdout,
		Timeout:         timeout,
		scriptQueue:     queue.New(),
		controlQueue:    queue.New(),
		outputQueue:     queue.New(),
		tc:              tc,
		readingTestcase: true,
	}
}

// Run drives scriptSrc to completion, returning the final tally.
func (this *Engine) Run(scriptSrc io.Reader) (*Result, error) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT)
	defer signal.Stop(sigCh)
	signal.Ignore(syscall.SIGPIPE)

	scriptEvents := make(chan chunk, 8)
	outputEvents := make(chan chunk, 8)
	controlEvents := make(chan chunk, 8)

	go pump(scriptSrc, scriptEvents)
	go pump(this.Shell.OutputReader, outputEvents)
	go pump(this.Shell.ControlReader, controlEvents)

	var timer *time.Timer
	var timerC <-chan time.Time

	armTimer := func(d time.Duration) {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
		timerC = nil
		if d > 0 {
			timer = time.NewTimer(d)
			timerC = timer.C
		}
	}

	if err := this.advance(sigCh, outputEvents); err != nil {
		return nil, err
	}
	if this.interrupted {
		goto shutdown
	}

	for !this.caseExhausted() {
		if !this.readingTestcase && timerC == nil {
			armTimer(this.Timeout)
		} else if this.readingTestcase {
			armTimer(0)
		}

		select {
		case <-sigCh:
			this.interrupted = true
			goto shutdown

		case ev := <-scriptEvents:
			if ev.err != nil {
				return nil, fmt.Errorf("reading script: %w", ev.err)
			}
			if ev.eof {
				this.scriptEOF = true
			} else {
				this.scriptQueue.AppendBytes(ev.data)
			}

		case ev := <-outputEvents:
			if ev.err != nil {
				return nil, fmt.Errorf("reading shell output: %w", ev.err)
			}
			if ev.eof {
				this.inEOF = true
			} else {
				this.outputQueue.AppendBytes(ev.data)
				if eraseEndMarker(this.outputQueue) {
					this.testcaseEOF = true
				}
			}

		case ev := <-controlEvents:
			if ev.err != nil {
				return nil, fmt.Errorf("reading control channel: %w", ev.err)
			}
			if ev.eof {
				// EOF on the control channel closes it without ending the
				// run: the shell simply won't send any more directives.
				controlEvents = nil
				break
			}
			this.controlQueue.AppendBytes(ev.data)
			newTimeout, err := drainControl(this.controlQueue)
			if err != nil {
				return nil, err
			}
			if newTimeout >= 0 {
				this.Timeout = time.Duration(newTimeout) * time.Second
				if !this.readingTestcase {
					armTimer(this.Timeout)
				}
			}

		case <-timerC:
			this.timedOut = true
			goto shutdown
		}

		reported := this.passed + this.failed
		if err := this.advance(sigCh, outputEvents); err != nil {
			return nil, err
		}
		if this.passed+this.failed != reported {
			// A case was reported: drop its deadline so the next case is
			// armed with a fresh one at the top of the loop.
			armTimer(0)
		}
		if this.interrupted {
			goto shutdown
		}
	}

shutdown:
	if timer != nil {
		timer.Stop()
	}

	if this.timedOut {
		fmt.Fprintln(this.Reporter.Out, this.Reporter.Palette.Red("command timed out"))
		this.failed++
		this.reportOrphans()
	} else if this.interrupted {
		fmt.Fprintln(this.Reporter.Out, this.Reporter.Palette.Red("interrupted"))
		this.failed++
	} else if total := this.passed + this.failed; total > 0 {
		color := this.Reporter.Palette.Green
		if this.failed > 0 {
			color = this.Reporter.Palette.Red
		}
		fmt.Fprintln(this.Reporter.Out, color(fmt.Sprintf(
			"%d commands (%d passed, %d failed)", total, this.passed, this.failed)))
	}

	return &Result{
		Passed:      this.passed,
		Failed:      this.failed,
		TimedOut:    this.timedOut,
		Interrupted: this.interrupted,
	}, nil
}

// reportOrphans surfaces any process the timed-out command left running
// under the shell, when --verbose is set; a plain run stays as quiet
// about this as the original, which never looked past the PTY at all.
func (this *Engine) reportOrphans() {
	if !this.Reporter.Verbose {
		return
	}
	children, err := this.Shell.ChildPIDs()
	if err != nil || len(children) == 0 {
		return
	}
	fmt.Fprintf(this.Reporter.Out, "%s %v\n",
		this.Reporter.Palette.Red("orphaned child processes:"), children)
}

// caseExhausted reports the loop's sole termination condition: reading a
// case, the script fully drained, and nothing but the preamble left in
// the command accumulator.
func (this *Engine) caseExhausted() bool {
	return this.readingTestcase && this.scriptEOF && this.scriptQueue.Empty() &&
		this.tc.Command.Length() == this.tc.Preamble
}

// advance runs the case state machine until it stops making progress:
// reporting a just-finished case, parsing the next one out of whatever
// script bytes have accumulated, and handing off to interactive mode at
// a breakpoint. A single event can unblock several of these transitions
// in a row (the end marker arriving both finishes REPORTING and
// immediately starts parsing the next case).
func (this *Engine) advance(sigCh <-chan os.Signal, outputEvents chan chunk) error {
	for {
		advanced, err := this.advanceOnce()
		if err != nil {
			return err
		}

		if this.Parser.AtStopAt() {
			if err := this.runInteractive(sigCh, outputEvents); err != nil {
				return err
			}
			this.Parser.DisableStopAt()
			continue
		}

		if !advanced {
			return nil
		}
	}
}

func (this *Engine) advanceOnce() (bool, error) {
	if !this.readingTestcase && (this.testcaseEOF || this.inEOF) {
		if this.Reporter.End(this.outputQueue, this.tc.Expected, this.testcaseEOF) {
			this.passed++
		} else {
			this.failed++
		}
		this.tc.Reset()
		this.outputQueue.Reset()
		this.readingTestcase = true
		this.testcaseEOF = false
		return true, nil
	}

	if this.readingTestcase {
		if this.caseExhausted() {
			// Guard mirroring shrun()'s own pre-check before calling
			// read_testcase: once the script is fully drained and nothing
			// but the preamble is left, there is nothing left to parse,
			// and Parse's own eof-when-empty return would otherwise read
			// as a spurious ready case.
			return false, nil
		}

		ready, err := this.Parser.Parse(this.scriptQueue, this.scriptEOF, this.tc)
		if err != nil {
			return false, err
		}
		if !ready {
			return false, nil
		}

		this.Reporter.Begin(this.tc, this.Parser.FirstLineno())

		if !this.tc.Stdin.Empty() {
			stdin := this.tc.Stdin.Bytes()
			buf := this.tc.Command.Reserve(len(stdin) + 1)
			n := copy(buf, stdin)
			buf[n] = this.Shell.VEOF
			this.tc.Command.CommitWrite(n + 1)
		}
		this.tc.Command.AppendString(endMarkerCmd)

		if err := writeAll(this.Shell.CommandWriter, this.tc.Command.Bytes()); err != nil {
			return false, err
		}
		this.tc.Command.Reset()

		this.readingTestcase = false
		this.testcaseEOF = false
		return true, nil
	}

	return false, nil
}

// eraseEndMarker reports whether the tail of output is the 0x04 0x0A
// sentinel, stripping it if so.
func eraseEndMarker(output *queue.Queue) bool {
	buf := output.Readable()
	if len(buf) >= 2 && buf[len(buf)-2] == 0x04 && buf[len(buf)-1] == '\n' {
		output.EraseTail(2)
		return true
	}
	return false
}

func writeAll(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func pump(r io.Reader, c chan<- chunk) {
	buf := make([]byte, 16*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			c <- chunk{data: cp}
		}
		if err != nil {
			if err == io.EOF {
				c <- chunk{eof: true}
			} else {
				c <- chunk{err: err}
			}
			return
		}
	}
}
