package proc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TheBreeze12/RISCV-OS/config"
	"github.com/TheBreeze12/RISCV-OS/defs"
	"github.com/TheBreeze12/RISCV-OS/mem"
	"github.com/TheBreeze12/RISCV-OS/vm"
)

func newTestTable(t *testing.T, nproc, npages int) (*Table, *mem.Allocator) {
	t.Helper()
	alloc := &mem.Allocator{}
	end := mem.Pa(0x1000)
	alloc.Init(end, end+mem.Pa(npages*vm.PGSIZE))

	kernelPt, ok := vm.CreateRoot(alloc)
	require.True(t, ok)
	_, trampolinePa, ok := alloc.Alloc()
	require.True(t, ok)
	require.Zero(t, kernelPt.MapRange(vm.TRAMPOLINE, vm.PGSIZE, trampolinePa, vm.PteR|vm.PteX))

	cfg := config.Config{NProc: nproc, TimerInterval: 1000, KstackPages: 1}
	table := Init(cfg, alloc, kernelPt, trampolinePa)
	return table, alloc
}

func TestAllocFreeRoundTripPreservesFreePages(t *testing.T) {
	table, alloc := newTestTable(t, 4, 64)
	before := alloc.Nfree()

	p, err := table.Alloc()
	require.Zero(t, err)
	require.NotNil(t, p)
	require.Equal(t, defs.USED, p.State)
	require.Equal(t, defs.Pid_t(1), p.Pid)

	table.Free(p)
	require.Equal(t, defs.UNUSED, p.State)
	require.Equal(t, before, alloc.Nfree(), "alloc_proc followed by free_proc must not leak physical pages")
}

func TestAllocAssignsUniqueMonotonicPids(t *testing.T) {
	table, _ := newTestTable(t, 4, 64)
	p1, err := table.Alloc()
	require.Zero(t, err)
	p2, err := table.Alloc()
	require.Zero(t, err)
	require.NotEqual(t, p1.Pid, p2.Pid)
	require.Less(t, p1.Pid, p2.Pid)
}

func TestAllocFailsWhenTableFull(t *testing.T) {
	table, _ := newTestTable(t, 2, 64)
	_, err := table.Alloc()
	require.Zero(t, err)
	_, err = table.Alloc()
	require.Zero(t, err)
	_, err = table.Alloc()
	require.NotZero(t, err, "alloc_proc must fail with no UNUSED slots left")
}

func TestEveryLiveSlotMapsTrampolineAndTrapframe(t *testing.T) {
	table, _ := newTestTable(t, 4, 64)
	p, err := table.Alloc()
	require.Zero(t, err)

	tramp, ok := p.Pagetable.Walk(vm.TRAMPOLINE, false)
	require.True(t, ok)
	require.NotZero(t, *tramp&vm.PteV)
	require.Zero(t, *tramp&vm.PteU, "TRAMPOLINE must not carry the user bit")

	tf, ok := p.Pagetable.Walk(vm.TRAPFRAME, false)
	require.True(t, ok)
	require.NotZero(t, *tf&vm.PteV)
	require.Zero(t, *tf&vm.PteU, "TRAPFRAME must not carry the user bit")
	require.NotNil(t, p.Trapframe)
}
