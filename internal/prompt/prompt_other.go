//go:build !linux

package prompt

import "golang.org/x/sys/unix"

// Non-Linux unix variants (BSD/macOS use TIOCGETA/TIOCSETA instead of the
// Linux-specific TCGETS/TCSETS ioctl numbers).
const (
	ioctlGetTermios = unix.TIOCGETA
	ioctlSetTermios = unix.TIOCSETA
)
