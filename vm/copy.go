// Copy helpers for crossing the user/kernel boundary, grounded on
// biscuit/src/vm/userbuf.go's _tx page-at-a-time loop: walk the
// destination/source page, compute how much of the current page the
// transfer can use, memcpy that much, advance.
package vm

import (
	"github.com/TheBreeze12/RISCV-OS/defs"
	"github.com/TheBreeze12/RISCV-OS/util"
)

func pageRemainder(va uintptr) int {
	return PGSIZE - int(va&(PGSIZE-1))
}

// CopyOut copies src into the user address space starting at dstVa,
// failing with EFAULT the first time it crosses into an unmapped or
// non-user page (spec §4.2 copy_out).
func (as *AddressSpace) CopyOut(dstVa uintptr, src []byte) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	for len(src) > 0 {
		pa := as.resolveLocked(dstVa)
		if pa == 0 {
			return defs.Fail(defs.EFAULT)
		}
		n := util.Min(pageRemainder(dstVa), len(src))
		frame := as.alloc.Frame(pa &^ (PGSIZE - 1))
		off := int(pa & (PGSIZE - 1))
		copy(frame[off:off+n], src[:n])
		src = src[n:]
		dstVa += uintptr(n)
	}
	return 0
}

// CopyIn copies len(dst) bytes from the user address space starting at
// srcVa into dst (spec §4.2 copy_in).
func (as *AddressSpace) CopyIn(dst []byte, srcVa uintptr) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	for len(dst) > 0 {
		pa := as.resolveLocked(srcVa)
		if pa == 0 {
			return defs.Fail(defs.EFAULT)
		}
		n := util.Min(pageRemainder(srcVa), len(dst))
		frame := as.alloc.Frame(pa &^ (PGSIZE - 1))
		off := int(pa & (PGSIZE - 1))
		copy(dst[:n], frame[off:off+n])
		dst = dst[n:]
		srcVa += uintptr(n)
	}
	return 0
}

// CopyInStr copies a NUL-terminated string from the user address space
// starting at srcVa into dst, stopping at (and not including) the NUL.
// It returns the string length, or fails with ENAMETOOLONG if no NUL
// appears within len(dst) bytes (spec §4.2 copy_in_str).
func (as *AddressSpace) CopyInStr(dst []byte, srcVa uintptr) (int, defs.Err_t) {
	as.mu.Lock()
	defer as.mu.Unlock()
	got := 0
	for got < len(dst) {
		pa := as.resolveLocked(srcVa)
		if pa == 0 {
			return -1, defs.Fail(defs.EFAULT)
		}
		n := util.Min(pageRemainder(srcVa), len(dst)-got)
		frame := as.alloc.Frame(pa &^ (PGSIZE - 1))
		off := int(pa & (PGSIZE - 1))
		for i := 0; i < n; i++ {
			b := frame[off+i]
			if b == 0 {
				return got, 0
			}
			dst[got] = b
			got++
		}
		srcVa += uintptr(n)
	}
	return -1, defs.Fail(defs.ENAMETOOLONG)
}

// resolveLocked is Resolve without taking as.mu, for callers that already
// hold it.
func (as *AddressSpace) resolveLocked(va uintptr) uintptr {
	pte, ok := as.Walk(va&^(PGSIZE-1), false)
	if !ok || *pte&PteV == 0 || *pte&PteU == 0 {
		return 0
	}
	return uintptr(pteToPa(*pte)) | (va & (PGSIZE - 1))
}
