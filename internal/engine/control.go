package engine

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/agruen/shrun/internal/queue"
)

// drainControl consumes every complete line sitting in controlQueue,
// recognizing only `timeout N`: the shell function the preamble installs
// writes exactly that line whenever the script's own `timeout` helper
// runs. It returns the last seconds value seen, or -1 if no new value
// arrived. An incomplete trailing line (no '\n' yet) is left in the
// queue for the next read to complete.
func drainControl(controlQueue *queue.Queue) (int, error) {
	newTimeout := -1

	for {
		buf := controlQueue.Readable()
		if buf == nil {
			break
		}

		nl := bytes.IndexByte(buf, '\n')
		if nl < 0 {
			break
		}

		line := bytes.TrimRight(buf[:nl], "\r")
		controlQueue.CommitRead(nl + 1)

		seconds, err := parseTimeoutLine(line)
		if err != nil {
			return -1, err
		}
		newTimeout = seconds
	}

	return newTimeout, nil
}

// parseTimeoutLine parses a single control-channel line of the form
// "timeout N". Anything else is a directive the driver doesn't
// understand, and per the protocol that aborts the run with a
// diagnostic rather than being silently ignored.
func parseTimeoutLine(line []byte) (int, error) {
	const prefix = "timeout "
	if !bytes.HasPrefix(line, []byte(prefix)) {
		return 0, fmt.Errorf("control channel: unrecognized directive %q", line)
	}

	n, err := strconv.Atoi(string(bytes.TrimSpace(line[len(prefix):])))
	if err != nil {
		return 0, fmt.Errorf("control channel: bad timeout value %q: %w", line, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("control channel: negative timeout %q", line)
	}

	return n, nil
}
