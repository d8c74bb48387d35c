// Package fsif declares the contract between the kernel core and the
// on-disk filesystem collaborator (out of this core's scope per spec §1).
// The core only ever talks to a path and an open file through these two
// interfaces; it never touches inode or block-cache internals directly.
package fsif

import (
	"github.com/TheBreeze12/RISCV-OS/defs"
	"github.com/TheBreeze12/RISCV-OS/util"
)

// Open flag bits, as consumed by the open syscall (spec §6).
const (
	OCreate    = 0x1
	OWronly    = 0x2
	ORdwr      = 0x200
	OTrunc     = 0x400
)

// Stat mirrors the fields a process can query via fstat. Field order and
// accessor naming follow the teacher's wire-struct convention.
type Stat struct {
	dev    uint
	ino    uint
	mode   uint
	size   uint
}

// Wdev stores the device ID.
func (st *Stat) Wdev(v uint) { st.dev = v }

// Wino stores the inode number.
func (st *Stat) Wino(v uint) { st.ino = v }

// Wmode records the file mode.
func (st *Stat) Wmode(v uint) { st.mode = v }

// Wsize records the file size.
func (st *Stat) Wsize(v uint) { st.size = v }

// Bytes returns the little-endian wire encoding copied to user memory by
// fstat.
func (st *Stat) Bytes() []byte {
	buf := make([]byte, 32)
	util.Writen(buf[0:], 8, 0, int(st.dev))
	util.Writen(buf[8:], 8, 0, int(st.ino))
	util.Writen(buf[16:], 8, 0, int(st.mode))
	util.Writen(buf[24:], 8, 0, int(st.size))
	return buf
}

// File is the per-descriptor contract consumed by read/write/close/fstat.
type File interface {
	Read(dst []byte) (int, defs.Err_t)
	Write(src []byte) (int, defs.Err_t)
	Stat(st *Stat) defs.Err_t
	Close() defs.Err_t
	// Reopen is called when a descriptor is duplicated (fork, dup-like
	// paths); it lets the collaborator bump its own internal refcount.
	Reopen() defs.Err_t
}

// FS is the filesystem-wide contract consumed by open/unlink/mkdir/exec.
type FS interface {
	Open(path string, flags int) (File, defs.Err_t)
	Unlink(path string) defs.Err_t
	Mkdir(path string) defs.Err_t
}
