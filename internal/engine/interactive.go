package engine

import (
	"fmt"
	"os"

	"github.com/agruen/shrun/internal/queue"
	"github.com/agruen/shrun/internal/termio"
)

// runInteractive hands the terminal to the user at a --stop-at breakpoint:
// it proxies bytes between the caller's own Stdin/Stdout and the shell,
// the same role the original's interactive() plays, until the local
// side reaches EOF (^D). At that point it injects the end-marker command
// itself and waits for it to come back before returning control to the
// normal test loop. This sub-run counts toward neither passed nor failed:
// it never produced an expected-output comparison to begin with.
func (this *Engine) runInteractive(sigCh <-chan os.Signal, outputEvents chan chunk) error {
	fmt.Fprintln(this.Reporter.Out, this.Reporter.Palette.Red("interactive; press ^D to continue"))

	out := termio.NewReplaceWriter(this.Stdout, "\n", "\r\n")

	stdinEvents := make(chan chunk, 8)
	go pump(this.Stdin, stdinEvents)

	stdinQueue := queue.New()
	localEOF := false
	injected := false

	for {
		if !localEOF && !stdinQueue.Empty() {
			if err := writeAll(this.Shell.CommandWriter, stdinQueue.Bytes()); err != nil {
				return err
			}
			stdinQueue.Reset()
		}

		select {
		case <-sigCh:
			this.interrupted = true
			return nil

		case ev := <-stdinEvents:
			if ev.err != nil {
				return fmt.Errorf("reading interactive stdin: %w", ev.err)
			}
			if ev.eof {
				localEOF = true
				if !injected {
					injected = true
					if err := writeAll(this.Shell.CommandWriter, []byte(endMarkerCmd)); err != nil {
						return err
					}
				}
			} else {
				stdinQueue.AppendBytes(ev.data)
			}

		case ev := <-outputEvents:
			if ev.err != nil {
				return fmt.Errorf("reading shell output: %w", ev.err)
			}
			if ev.eof {
				this.inEOF = true
				return nil
			}

			this.outputQueue.AppendBytes(ev.data)
			done := eraseEndMarker(this.outputQueue)

			if buf := this.outputQueue.Readable(); buf != nil {
				if _, err := out.Write(buf); err != nil {
					return err
				}
				this.outputQueue.CommitRead(len(buf))
			}

			if done {
				return nil
			}
		}
	}
}
