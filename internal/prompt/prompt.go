// Package prompt implements the terminal-prompting collaborator spec.md
// names but treats as external to the core: reading a secret line from the
// controlling terminal with echo disabled, in the raw-syscall style of the
// teacher's internal/security process/file helpers (termios manipulation via
// golang.org/x/sys/unix rather than a higher-level terminal library).
package prompt

import (
	"bufio"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ReadSecret opens /dev/tty, disables ECHO for the duration of the read, and
// returns one line with its trailing newline stripped. Used for interactive
// lockout-auth and missing-passphrase entry (spec.md §4.9, §12 item 5).
func ReadSecret(label string) ([]byte, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("prompt: opening controlling terminal: %w", err)
	}
	defer tty.Close()

	fd := int(tty.Fd())
	restore, err := disableEcho(fd)
	if err != nil {
		return nil, fmt.Errorf("prompt: disabling echo: %w", err)
	}
	defer restore()

	if label != "" {
		fmt.Fprint(tty, label)
	}

	reader := bufio.NewReader(tty)
	line, err := reader.ReadString('\n')
	fmt.Fprintln(tty)
	if err != nil && len(line) == 0 {
		return nil, fmt.Errorf("prompt: reading line: %w", err)
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return []byte(line), nil
}

// disableEcho clears ECHO (and ECHONL) in the terminal's local mode flags
// and returns a function that restores the original termios.
func disableEcho(fd int) (restore func(), err error) {
	orig, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return nil, err
	}

	raw := *orig
	raw.Lflag &^= unix.ECHO
	raw.Lflag &^= unix.ECHONL

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &raw); err != nil {
		return nil, err
	}
	return func() {
		_ = unix.IoctlSetTermios(fd, ioctlSetTermios, orig)
	}, nil
}
