package vm

import (
	"github.com/TheBreeze12/RISCV-OS/defs"
	"github.com/TheBreeze12/RISCV-OS/internal/diag"
	"github.com/TheBreeze12/RISCV-OS/mem"
)

// GrowUser allocates fresh frames and maps them User+Readable+Writable
// (optionally OR'd with extraPerm) to cover [oldSize, newSize). It returns
// the new size, rolling back any partial growth on failure (spec §4.2
// grow_user). Growth that would reach the guard page below TRAPFRAME
// fails (spec §8 boundary behavior).
func (as *AddressSpace) GrowUser(oldSize, newSize int, extraPerm Pte) (int, defs.Err_t) {
	if newSize <= oldSize {
		return oldSize, 0
	}
	if newSize > TRAPFRAME-PGSIZE {
		return oldSize, defs.Fail(defs.ENOMEM)
	}
	start := mem.Roundup(mem.Pa(oldSize))
	perm := PteU | PteR | PteW | extraPerm

	installed := make([]uintptr, 0, (newSize-int(start))/PGSIZE)
	for va := uintptr(start); va < uintptr(newSize); va += PGSIZE {
		_, pa, ok := as.alloc.Alloc()
		if !ok {
			as.growRollback(installed)
			return oldSize, defs.Fail(defs.ENOMEM)
		}
		if err := as.MapRange(va, PGSIZE, pa, perm); err != 0 {
			as.alloc.Free(pa)
			as.growRollback(installed)
			return oldSize, err
		}
		installed = append(installed, va)
	}
	return newSize, 0
}

func (as *AddressSpace) growRollback(vas []uintptr) {
	for _, va := range vas {
		as.UnmapRange(va, 1, true)
	}
}

// ShrinkUser is the inverse of GrowUser: it frees frames for every fully
// vacated page in [newSize, oldSize), then frees every page-table node
// left with no valid entry (spec §4.2 shrink_user).
func (as *AddressSpace) ShrinkUser(oldSize, newSize int) int {
	if newSize >= oldSize {
		return oldSize
	}
	lo := mem.Roundup(mem.Pa(newSize))
	hi := mem.Roundup(mem.Pa(oldSize))
	if hi > lo {
		npages := int(hi-lo) / PGSIZE
		as.UnmapRange(uintptr(lo), npages, true)
		var prune func(pa mem.Pa, level int) bool
		prune = func(pa mem.Pa, level int) bool {
			table, empty := asTable(as.alloc.Frame(pa)), true
			for i, pte := range table {
				if pte&PteV != 0 && level > 0 && !isLeaf(pte) && prune(pteToPa(pte), level-1) {
					as.alloc.Free(pteToPa(pte))
					table[i] = 0
				} else if pte&PteV != 0 {
					empty = false
				}
			}
			return empty
		}
		prune(as.Root, levels-1)
	}
	return newSize
}

// FreeAddressSpace unmaps and frees every user page in [0, size), then
// frees every non-leaf table, then the root (spec §4.2
// free_address_space). The caller must have already cleared the
// TRAMPOLINE/TRAPFRAME leaves (proc.Table.FreeUserPagetable does this) so those
// physical pages are not freed here.
func (as *AddressSpace) FreeAddressSpace(size int) {
	as.mu.Lock()
	if size > 0 {
		npages := int(mem.Roundup(mem.Pa(size))) / PGSIZE
		as.unmapRangeLocked(0, npages, true)
	}
	as.mu.Unlock()

	as.freeWalk(as.Root, levels-1)
	as.alloc.Free(as.Root)
}

// freeWalk recursively frees every non-leaf table reachable from pa at
// the given level, panicking if it still finds a valid leaf (the caller
// must have unmapped all leaves first).
func (as *AddressSpace) freeWalk(pa mem.Pa, level int) {
	if level == 0 {
		return
	}
	table := asTable(as.alloc.Frame(pa))
	for i := range table {
		pte := table[i]
		if pte&PteV == 0 {
			continue
		}
		if isLeaf(pte) {
			diag.Fatal("vm.freeWalk: leaf still mapped at level %d slot %d", level, i)
		}
		child := pteToPa(pte)
		as.freeWalk(child, level-1)
		as.alloc.Free(child)
		table[i] = 0
	}
}

// CopyAddressSpace duplicates the user portion [0, size) of src into dst
// by allocating fresh frames and copying contents (spec §4.2
// copy_address_space). Failure mid-copy rolls back fully.
func CopyAddressSpace(src, dst *AddressSpace, size int) defs.Err_t {
	copied := make([]uintptr, 0, size/PGSIZE)
	for va := uintptr(0); va < uintptr(size); va += PGSIZE {
		srcPte, ok := src.Walk(va, false)
		if !ok || *srcPte&PteV == 0 {
			diag.Fatal("vm.CopyAddressSpace: %#x unmapped in source", va)
		}
		perm := *srcPte & (PteR | PteW | PteX | PteU)
		_, newPa, ok := dst.alloc.Alloc()
		if !ok {
			dst.growRollback(copied)
			return defs.Fail(defs.ENOMEM)
		}
		copy(dst.alloc.Frame(newPa), src.alloc.Frame(pteToPa(*srcPte)))
		if err := dst.MapRange(va, PGSIZE, newPa, perm); err != 0 {
			dst.alloc.Free(newPa)
			dst.growRollback(copied)
			return err
		}
		copied = append(copied, va)
	}
	return 0
}
