package shellproc

import (
	"os"
	"syscall"
)

// sessionLeaderAttr is the Go equivalent of pty_fork's setsid() followed
// by ioctl(STDIN_FILENO, TIOCSCTTY, 0): the child becomes a new session
// leader and acquires slave as its controlling terminal. Ctty is a
// descriptor number in the CHILD's fd table, not the parent's; slave is
// wired as cmd.Stdin, so that's fd 0 regardless of what slave.Fd()
// returns in this process.
func sessionLeaderAttr(slave *os.File) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0,
	}
}
