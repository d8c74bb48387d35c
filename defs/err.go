// Package defs holds the small cross-cutting vocabulary shared by every
// kernel package: the negative-errno error convention, the process id
// and process-state types, and the fixed syscall-number table (spec §6, §7).
package defs

import "golang.org/x/sys/unix"

// Err_t is a negative errno-shaped return value. Zero means success; a
// VM, allocator or process-table operation that fails returns one of the
// constants below negated by Fail. This mirrors the teacher's `defs.Err_t`
// convention (biscuit/src/vm/as.go, biscuit/src/fd/fd.go) rather than Go's
// built-in error. Syscall handlers do not pass these values to user space:
// every failing handler leaves -1 in a0 (spec §4.6).
type Err_t int

/// Resource exhaustion and boundary-failure codes (spec §7), pinned to the
/// real POSIX errno values via golang.org/x/sys/unix rather than
/// hand-copied numeric literals, since these numbers cross the user/kernel
/// ABI boundary and must match the values user-space expects.
const (
	EFAULT       Err_t = Err_t(unix.EFAULT)       /// bad user address
	ENOMEM       Err_t = Err_t(unix.ENOMEM)        /// no free physical page
	EINVAL       Err_t = Err_t(unix.EINVAL)        /// invalid argument
	ENAMETOOLONG Err_t = Err_t(unix.ENAMETOOLONG)  /// user string exceeds max without a terminator
	ESRCH        Err_t = Err_t(unix.ESRCH)         /// no such process / no children
	ENOENT       Err_t = Err_t(unix.ENOENT)        /// no such file or directory (collaborator)
	EMFILE       Err_t = Err_t(unix.EMFILE)        /// no free descriptor slot
	EAGAIN       Err_t = Err_t(unix.EAGAIN)        /// no free process slot; retry later
)

// Fail returns -code, the negative form in which a failing kernel
// operation reports code.
func Fail(code Err_t) Err_t {
	return -code
}
