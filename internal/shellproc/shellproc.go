// Package shellproc implements the shell-child factory collaborator:
// it forks the shell under a PTY, wires its stdout (and optionally stderr)
// to a private pipe the driver reads from, gives it a control-channel pipe
// to write `timeout N` directives on, and puts the PTY into the same
// echo-free, ONLCR-free mode the original source configures on the master
// before anything is sent to the child.
package shellproc

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/creack/pty"
	"github.com/mitchellh/go-ps"
	"golang.org/x/sys/unix"
)

// controlFD is the file descriptor the shell child sees its control pipe
// on. Go's ExtraFiles always starts at fd 3, so with a single extra file
// that is always 3 - there is nothing to compute, but the constant is
// named so the preamble text and the child's view of the world can never
// drift apart.
const controlFD = 3

// Shell is a running shell child plus the three descriptors the engine
// multiplexes: CommandWriter (the PTY master, used to type commands and
// stdin at the shell), OutputReader (a pipe fed by the child's stdout and,
// if configured, stderr) and ControlReader (a pipe the child's `timeout()`
// shell function writes to).
type Shell struct {
	CommandWriter *os.File
	OutputReader  *os.File
	ControlReader *os.File

	// VEOF is the terminal's end-of-file character, read back from the
	// PTY's termios after shrun has disabled echo; it is appended to a
	// case's piped stdin so the shell's read loop sees EOF the same way
	// a real terminal would deliver it.
	VEOF byte

	cmd    *exec.Cmd
	master *os.File
	slave  *os.File
	done   chan error
}

// Preamble is the shell-function definition that must be typed at the
// shell before any test case: it teaches the child how to report a
// `timeout N` directive back to the driver on its control pipe.
func Preamble() string {
	return fmt.Sprintf("timeout() { echo \"timeout $1\" >&%d; }\n", controlFD)
}

// Spawn forks shellPath under a PTY and returns the wired Shell. When
// withStderr is true the child's stderr is merged into the same pipe as
// its stdout, mirroring --no-stderr's opposite default.
func Spawn(shellPath string, withStderr bool) (*Shell, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, err
	}

	outRead, outWrite, err := os.Pipe()
	if err != nil {
		master.Close()
		slave.Close()
		return nil, err
	}

	ctlRead, ctlWrite, err := os.Pipe()
	if err != nil {
		master.Close()
		slave.Close()
		outRead.Close()
		outWrite.Close()
		return nil, err
	}

	cmd := exec.Command(shellPath)
	cmd.Stdin = slave
	cmd.Stdout = outWrite
	if withStderr {
		cmd.Stderr = outWrite
	}
	cmd.ExtraFiles = []*os.File{ctlWrite}
	cmd.SysProcAttr = sessionLeaderAttr(slave)

	if err := cmd.Start(); err != nil {
		master.Close()
		slave.Close()
		outRead.Close()
		outWrite.Close()
		ctlRead.Close()
		ctlWrite.Close()
		return nil, err
	}

	// The child has its own copies of slave, outWrite and ctlWrite now;
	// the parent only needs the master and the read ends.
	slave.Close()
	outWrite.Close()
	ctlWrite.Close()

	veof, err := quietTerminal(master)
	if err != nil {
		cmd.Process.Kill()
		master.Close()
		outRead.Close()
		ctlRead.Close()
		return nil, err
	}

	sh := &Shell{
		CommandWriter: master,
		OutputReader:  outRead,
		ControlReader: ctlRead,
		VEOF:          veof,
		cmd:           cmd,
		master:        master,
		slave:         slave,
		done:          make(chan error, 1),
	}

	go func() {
		sh.done <- cmd.Wait()
	}()

	return sh, nil
}

// Done reports the shell's exit, asynchronously, the Go-native stand-in
// for the original's ignored SIGCHLD: there the parent never learns of an
// early exit except by reading EOF off the output pipe, and neither does
// the engine here, which does not read Done at all.
func (this *Shell) Done() <-chan error {
	return this.done
}

// PID returns the shell child's process id.
func (this *Shell) PID() int {
	return this.cmd.Process.Pid
}

// ChildPIDs returns the pids of every process still reporting the shell
// as its parent. A timed-out case often leaves a backgrounded child
// (sleep, a stray pipeline stage) behind the shell it was typed into;
// --verbose surfaces these instead of silently leaving them orphaned.
func (this *Shell) ChildPIDs() ([]int, error) {
	processes, err := ps.Processes()
	if err != nil {
		return nil, err
	}

	shellPid := this.PID()
	var children []int
	for _, p := range processes {
		if p.PPid() == shellPid {
			children = append(children, p.Pid())
		}
	}
	return children, nil
}

// Close releases every descriptor the parent still holds. It does not
// wait for the child; callers that need the exit status should drain
// Done first.
func (this *Shell) Close() error {
	this.master.Close()
	this.OutputReader.Close()
	this.ControlReader.Close()
	return nil
}

// quietTerminal disables local echo (ECHO, ECHOE, ECHOK, ECHONL) and
// ONLCR output translation on the PTY, matching the tcgetattr/tcsetattr block
// in the original before any test case is typed at the shell. It returns
// the terminal's VEOF character.
func quietTerminal(master *os.File) (byte, error) {
	fd := int(master.Fd())

	term, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return 0, err
	}

	term.Lflag &^= unix.ECHO | unix.ECHOE | unix.ECHOK | unix.ECHONL
	term.Oflag &^= unix.ONLCR

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, term); err != nil {
		return 0, err
	}

	return term.Cc[unix.VEOF], nil
}
