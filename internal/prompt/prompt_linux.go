//go:build linux

package prompt

import "golang.org/x/sys/unix"

// Linux's termios ioctls, matching the teacher's Unix-family raw-syscall
// style (file_unix.go's flock calls, process_unix.go's rlimit calls).
const (
	ioctlGetTermios = unix.TCGETS
	ioctlSetTermios = unix.TCSETS
)
