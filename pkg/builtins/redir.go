package builtins

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Redir maps a builtin's logical stream (the pseudo descriptor) onto
// the real descriptor a redirection routed it to. Builtins never
// close or dup the shell's own descriptors; they only ask where a
// logical stream's bytes should go for this one invocation.
type Redir struct {
	Pseudo int
	Real   int
}

// UnsafeFD is returned by Resolve when the requested descriptor is
// the real target of a pending redirection: writing to it directly
// would conflict with that redirection.
const UnsafeFD = -1

// Resolve walks the ordered redirection list once and returns the
// real descriptor to use for fd: UnsafeFD when fd is claimed as a
// redirection target, the mapped real descriptor when fd is
// redirected, or fd itself when no entry applies.
func Resolve(redirs []Redir, fd int) int {
	for _, r := range redirs {
		if r.Real == fd {
			return UnsafeFD
		}
		if r.Pseudo == fd {
			return r.Real
		}
	}
	return fd
}

const stderrFD = 2

// fdPrintf formats a message onto the resolved descriptor, writing
// with a raw syscall so no *os.File ever wraps (and later closes) a
// descriptor the shell still owns. Output to an unsafe descriptor is
// dropped, as dprintf(-1) would fail silently.
func fdPrintf(redirs []Redir, fd int, format string, args ...any) {
	fd = Resolve(redirs, fd)
	if fd < 0 {
		return
	}
	_, _ = unix.Write(fd, []byte(fmt.Sprintf(format, args...)))
}
