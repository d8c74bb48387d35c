// Package mem implements the physical page allocator described by spec
// §4.1: a single intrusive freelist over the RAM window
// [end-of-kernel, PHYS_TOP), handing out zeroed 4096-byte frames.
//
// Grounded on biscuit/src/mem/mem.go's Pa_t/Pg_t naming and "freelist lives
// inside the freed pages themselves" idiom, simplified to the single-hart,
// non-refcounted allocator the spec calls for (biscuit's version adds
// per-CPU free lists and a refcount per frame to support its COW/demand-
// paging model, both explicitly out of scope here).
//
// Since this module targets a host-testable Go build rather than real
// RISC-V hardware, physical memory is modeled as a backing byte arena:
// mem.Pa values are offsets into that arena rather than real bus
// addresses, and Frame dereferences them the way Dmap would on real
// hardware.
package mem

import (
	"sync"

	"github.com/TheBreeze12/RISCV-OS/internal/diag"
	"github.com/TheBreeze12/RISCV-OS/util"
)

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT = 12

// PGSIZE is the size of a single physical frame in bytes.
const PGSIZE = 1 << PGSHIFT

// Pa is a physical address. Distinct from a virtual address at the type
// level per spec §9.
type Pa uintptr

// Aligned reports whether pa is page aligned.
func (pa Pa) Aligned() bool {
	return pa&Pa(PGSIZE-1) == 0
}

// Roundup rounds pa up to the next page boundary, via the teacher's generic
// rounding helper (util.Roundup).
func Roundup(pa Pa) Pa {
	return util.Roundup(pa, PGSIZE)
}

// noneFree marks an empty freelist; 0 never occurs as a live frame address
// because the allocator's window always starts above the kernel image.
const noneFree Pa = 0

// Allocator is a single freelist of physical frames. The zero value is not
// usable; call Init.
type Allocator struct {
	mu sync.Mutex

	arena []byte
	base  Pa // first frame address backed by arena
	top   Pa // one past the last frame address (PHYS_TOP)

	free  Pa // head of the freelist, or noneFree
	nfree int
}

// Init walks [end, physTop) aligned up to the next page boundary and frees
// every page into the allocator, exactly as spec §4.1 describes.
func (a *Allocator) Init(end, physTop Pa) {
	start := Roundup(end)
	if start >= physTop {
		diag.Fatal("mem.Init: no pages in [%#x, %#x)", end, physTop)
	}
	a.base = start
	a.top = physTop
	a.arena = make([]byte, int(physTop-start))
	a.free = noneFree
	a.nfree = 0
	for pa := start; pa+PGSIZE <= physTop; pa += PGSIZE {
		a.free0(pa)
	}
}

// free0 pushes pa onto the freelist without validating bounds; used only
// during Init (every address in range) and by Free (already validated).
func (a *Allocator) free0(pa Pa) {
	frame := a.bytesAt(pa)
	for i := range frame {
		frame[i] = 0
	}
	putPa(frame, a.free)
	a.free = pa
	a.nfree++
}

// bytesAt returns the arena slice backing the frame at pa. Callers must
// have validated pa is in range and aligned.
func (a *Allocator) bytesAt(pa Pa) []byte {
	off := int(pa - a.base)
	return a.arena[off : off+PGSIZE]
}

// Frame returns the byte slice backing physical frame pa. It is the
// host-testable analogue of the teacher's Dmap: the kernel-side view of a
// physical page.
func (a *Allocator) Frame(pa Pa) []byte {
	if pa < a.base || pa+PGSIZE > a.top || !pa.Aligned() {
		diag.Fatal("mem.Frame: %#x out of [%#x,%#x)", pa, a.base, a.top)
	}
	return a.bytesAt(pa)
}

// Alloc returns a zeroed page and its physical address, or ok=false when
// the freelist is empty (spec §4.1: "failure when the list is empty" —
// resource exhaustion, never fatal).
func (a *Allocator) Alloc() (page []byte, pa Pa, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.free == noneFree {
		return nil, 0, false
	}
	pa = a.free
	frame := a.bytesAt(pa)
	a.free = getPa(frame)
	a.nfree--
	for i := range frame {
		frame[i] = 0
	}
	return frame, pa, true
}

// Free returns pa's frame to the list. Misuse (unaligned, below the
// managed window, at/above PHYS_TOP) is an invariant violation: spec §4.1
// says Free "fails fatally" in that case.
func (a *Allocator) Free(pa Pa) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !pa.Aligned() {
		diag.Fatal("mem.Free: %#x is not page aligned", pa)
	}
	if pa < a.base || pa >= a.top {
		diag.Fatal("mem.Free: %#x outside [%#x,%#x)", pa, a.base, a.top)
	}
	a.free0(pa)
}

// Nfree reports the number of frames currently on the list; used by tests
// asserting the round-trip laws of spec §8.
func (a *Allocator) Nfree() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nfree
}

func putPa(frame []byte, pa Pa) {
	v := uint64(pa)
	for i := 0; i < 8; i++ {
		frame[i] = byte(v >> (8 * uint(i)))
	}
}

func getPa(frame []byte) Pa {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(frame[i]) << (8 * uint(i))
	}
	return Pa(v)
}
