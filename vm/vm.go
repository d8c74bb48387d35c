// Package vm implements the SV39 three-level virtual memory manager of
// spec §4.2: page-table creation, range mapping/unmapping, user-space
// growth, address-space duplication, and copy-in/copy-out across the
// user/kernel boundary.
//
// Grounded on biscuit/src/vm/as.go's Vm_t (the Lock_pmap/Lockassert_pmap
// split, defs.Err_t returns, page-at-a-time copy loops) and on
// other_examples/.../riscv-rv64-mmu.go for the SV39 PTE bit layout and walk
// algorithm. Unlike biscuit's amd64 COW/demand-paging address space, this
// one targets SV39 (3 levels, not 4) and drops COW, shared file mappings,
// and lazy faulting entirely — every user page is mapped eagerly, as spec
// §4.2 and its Non-goals require.
package vm

import (
	"sync"
	"unsafe"

	"github.com/TheBreeze12/RISCV-OS/defs"
	"github.com/TheBreeze12/RISCV-OS/internal/diag"
	"github.com/TheBreeze12/RISCV-OS/mem"
)

// Pte is a single 64-bit page-table entry.
type Pte uint64

/// PTE attribute bits, SV39 layout (other_examples/...riscv-rv64-mmu.go).
const (
	PteV Pte = 1 << 0 /// valid
	PteR Pte = 1 << 1 /// readable
	PteW Pte = 1 << 2 /// writable
	PteX Pte = 1 << 3 /// executable
	PteU Pte = 1 << 4 /// user accessible
	PteG Pte = 1 << 5 /// global
	PteA Pte = 1 << 6 /// accessed
	PteD Pte = 1 << 7 /// dirty
)

const ppnShift = 10

// PGSIZE mirrors mem.PGSIZE for callers that only import vm.
const PGSIZE = mem.PGSIZE

// levels is the SV39 page-table depth (spec §3: "exactly three levels").
const levels = 3

// MAXVA is one past the highest SV39 user/kernel virtual address
// reachable without requiring sign-extended (non-canonical) addresses.
const MAXVA = 1 << (9 + 9 + 9 + 12 - 1)

// TRAMPOLINE and TRAPFRAME are the fixed virtual addresses spec §3/§6
// require in every live address space.
const (
	TRAMPOLINE = MAXVA - PGSIZE
	TRAPFRAME  = TRAMPOLINE - PGSIZE
)

// isLeaf reports whether pte names a translation (as opposed to pointing
// at the next-level table): per the RISC-V privileged spec, a PTE is a
// pointer iff R=W=X=0.
func isLeaf(pte Pte) bool {
	return pte&(PteR|PteW|PteX) != 0
}

func paToPte(pa mem.Pa) Pte {
	return Pte(uint64(pa)>>mem.PGSHIFT) << ppnShift
}

func pteToPa(pte Pte) mem.Pa {
	return mem.Pa((uint64(pte) >> ppnShift) << mem.PGSHIFT)
}

func vpn(va uintptr, level int) uintptr {
	shift := uintptr(mem.PGSHIFT + 9*level)
	return (va >> shift) & 0x1ff
}

// asTable reinterprets a physical frame's backing bytes as the 512-entry
// table it holds. frame must be exactly PGSIZE bytes, as every
// mem.Allocator frame is.
func asTable(frame []byte) *[512]Pte {
	return (*[512]Pte)(unsafe.Pointer(&frame[0]))
}

// AddressSpace is one process's (or the kernel's) page table root plus the
// allocator it draws frames from.
type AddressSpace struct {
	mu    sync.Mutex
	alloc *mem.Allocator
	Root  mem.Pa
}

// CreateRoot allocates an empty root table (spec §4.2 create_root).
func CreateRoot(alloc *mem.Allocator) (*AddressSpace, bool) {
	_, pa, ok := alloc.Alloc()
	if !ok {
		return nil, false
	}
	return &AddressSpace{alloc: alloc, Root: pa}, true
}

// Satp encodes this root as an SV39 satp register value (mode 8).
func (as *AddressSpace) Satp() uint64 {
	return (uint64(8) << 60) | (uint64(as.Root) >> mem.PGSHIFT)
}

// Walk returns the leaf PTE slot for va, allocating intermediate tables
// when alloc is set (spec §4.2 walk).
func (as *AddressSpace) Walk(va uintptr, allocIntermediate bool) (*Pte, bool) {
	if va >= MAXVA {
		diag.Fatal("vm.Walk: va %#x exceeds MAXVA", va)
	}
	pa := as.Root
	for level := levels - 1; level > 0; level-- {
		table := asTable(as.alloc.Frame(pa))
		idx := vpn(va, level)
		pte := &table[idx]
		if *pte&PteV != 0 {
			if isLeaf(*pte) {
				diag.Fatal("vm.Walk: unexpected leaf at level %d", level)
			}
			pa = pteToPa(*pte)
			continue
		}
		if !allocIntermediate {
			return nil, false
		}
		_, newPa, ok := as.alloc.Alloc()
		if !ok {
			return nil, false
		}
		*pte = paToPte(newPa) | PteV
		pa = newPa
	}
	table := asTable(as.alloc.Frame(pa))
	return &table[vpn(va, 0)], true
}

// Resolve returns the physical address backing the byte at va, or 0 when
// unmapped or not user-accessible (spec §4.2 resolve).
func (as *AddressSpace) Resolve(va uintptr) mem.Pa {
	as.mu.Lock()
	defer as.mu.Unlock()
	return mem.Pa(as.resolveLocked(va))
}

// MapRange installs size/PGSIZE leaf entries covering [va, va+size) to
// consecutive physical frames starting at pa, with perm (spec §4.2
// map_range). It fails, with no change visible to the caller, if any leaf
// is already valid or an intermediate table cannot be allocated.
func (as *AddressSpace) MapRange(va uintptr, size int, pa mem.Pa, perm Pte) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	if va&(PGSIZE-1) != 0 || uint64(pa)&(PGSIZE-1) != 0 {
		diag.Fatal("vm.MapRange: va %#x / pa %#x not page aligned", va, pa)
	}
	if size <= 0 || size%PGSIZE != 0 {
		diag.Fatal("vm.MapRange: size %d not a positive page multiple", size)
	}
	npages := size / PGSIZE
	installed := 0
	for i := 0; i < npages; i++ {
		curva := va + uintptr(i*PGSIZE)
		pte, ok := as.Walk(curva, true)
		if !ok {
			as.rollback(va, installed)
			return defs.Fail(defs.ENOMEM)
		}
		if *pte&PteV != 0 {
			as.rollback(va, installed)
			return defs.Fail(defs.EINVAL)
		}
		*pte = paToPte(pa+mem.Pa(i*PGSIZE)) | perm | PteV
		installed++
	}
	return 0
}

// rollback clears the first n leaves starting at va, restoring the
// pre-MapRange shape (the set of valid leaves) without touching
// intermediate tables or freeing any frame (MapRange never owns the
// frames it installs).
func (as *AddressSpace) rollback(va uintptr, n int) {
	for i := 0; i < n; i++ {
		pte, ok := as.Walk(va+uintptr(i*PGSIZE), false)
		if ok {
			*pte = 0
		}
	}
}

// UnmapRange clears npages leaves starting at va, optionally returning
// their frames to the allocator (spec §4.2 unmap_range). Every leaf must
// already be valid; violating that is fatal, per spec.
func (as *AddressSpace) UnmapRange(va uintptr, npages int, freeFrames bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.unmapRangeLocked(va, npages, freeFrames)
}

func (as *AddressSpace) unmapRangeLocked(va uintptr, npages int, freeFrames bool) {
	for i := 0; i < npages; i++ {
		curva := va + uintptr(i*PGSIZE)
		pte, ok := as.Walk(curva, false)
		if !ok || *pte&PteV == 0 {
			diag.Fatal("vm.UnmapRange: %#x was not mapped", curva)
		}
		if freeFrames {
			as.alloc.Free(pteToPa(*pte))
		}
		*pte = 0
	}
}

// ClearUserBit removes the User flag on one page (spec §4.2
// clear_user_bit), used to create a guard page below the user stack.
func (as *AddressSpace) ClearUserBit(va uintptr) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	pte, ok := as.Walk(va, false)
	if !ok || *pte&PteV == 0 {
		return defs.Fail(defs.EINVAL)
	}
	*pte &^= PteU
	return 0
}
