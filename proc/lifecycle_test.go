package proc_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TheBreeze12/RISCV-OS/config"
	"github.com/TheBreeze12/RISCV-OS/defs"
	"github.com/TheBreeze12/RISCV-OS/mem"
	"github.com/TheBreeze12/RISCV-OS/proc"
	"github.com/TheBreeze12/RISCV-OS/sched"
	"github.com/TheBreeze12/RISCV-OS/vm"
)

func newRunningTable(t *testing.T, nproc, npages int) (*proc.Table, *sched.CPU) {
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
	table := proc.Init(cfg, alloc, kernelPt, trampolinePa)
	cpu := sched.NewCPU(table)
	table.Bind(cpu)
	go cpu.Run()
	return table, cpu
}

// TestForkExitWaitRoundTrip covers spec §8's "fork then exit(0) in the
// child then wait in the parent returns the child's PID" law, and the
// end-to-end "fork/wait round-trip" scenario (child exits 7, parent's
// wait sees pid and status 7).
func TestForkExitWaitRoundTrip(t *testing.T) {
	table, _ := newRunningTable(t, 8, 512)

	type result struct {
		childPid, waitedPid, status int
	}
	resCh := make(chan result, 1)

	parent, err := table.Alloc()
	require.Zero(t, err)
	parent.State = defs.RUNNABLE
	parent.Spawn(func(p *proc.Proc) {
		childExit := func(cp *proc.Proc) { table.Exit(cp, 7) }
		childPid := table.Fork(p, childExit)

		var status int
		waitedPid := table.Wait(p, func(s int) defs.Err_t { status = s; return 0 })
		resCh <- result{childPid, waitedPid, status}
		table.Exit(p, 0)
	})

	select {
	case r := <-resCh:
		require.Equal(t, r.childPid, r.waitedPid)
		require.Equal(t, 7, r.status)
		require.Positive(t, r.childPid)
	case <-time.After(5 * time.Second):
		t.Fatal("fork/exit/wait round trip did not complete")
	}
}

// TestWaitWithNoChildrenFails covers spec §8's boundary behavior: wait
// returns -1 when the caller has no children.
func TestWaitWithNoChildrenFails(t *testing.T) {
	table, _ := newRunningTable(t, 4, 64)

	resCh := make(chan int, 1)
	p, err := table.Alloc()
	require.Zero(t, err)
	p.State = defs.RUNNABLE
	p.Spawn(func(p *proc.Proc) {
		resCh <- table.Wait(p, nil)
		table.Exit(p, 0)
	})

	select {
	case got := <-resCh:
		require.Equal(t, -1, got)
	case <-time.After(5 * time.Second):
		t.Fatal("wait with no children did not return")
	}
}

// TestKillWakesSleepingProcess covers spec §8 scenario 5: a process
// sleeping on a channel is killed, transitions to RUNNABLE, and exits
// with status -1 once it observes the killed flag.
func TestKillWakesSleepingProcess(t *testing.T) {
	table, cpu := newRunningTable(t, 4, 64)

	p, err := table.Alloc()
	require.Zero(t, err)
	p.State = defs.RUNNABLE

	const chanAddr = uintptr(0xdead)
	sleeping := make(chan struct{})
	exited := make(chan int, 1)
	p.Spawn(func(p *proc.Proc) {
		cpu.Sleep(p, chanAddr)
		close(sleeping)
		status := 0
		if p.Killed {
			status = -1
		}
		exited <- status
		table.Exit(p, status)
	})

	time.Sleep(20 * time.Millisecond) // let p reach SLEEPING before killing it
	require.Zero(t, table.Kill(p.Pid))

	select {
	case status := <-exited:
		require.Equal(t, -1, status, "a killed sleeper must exit with status -1")
	case <-time.After(5 * time.Second):
		t.Fatal("killed process never exited")
	}
	_ = sleeping
}

// TestSleepTicksWakesAtDeadline covers spec §8 scenario 4: a process
// sleeping for K ticks becomes RUNNABLE once the clock reaches K.
func TestSleepTicksWakesAtDeadline(t *testing.T) {
	table, cpu := newRunningTable(t, 4, 64)

	p, err := table.Alloc()
	require.Zero(t, err)
	p.State = defs.RUNNABLE

	woken := make(chan uint64, 1)
	p.Spawn(func(p *proc.Proc) {
		cpu.SleepTicks(p, 3)
		woken <- cpu.Ticks
		table.Exit(p, 0)
	})

	time.Sleep(10 * time.Millisecond)
	for i := 0; i < 3; i++ {
		cpu.Tick()
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case ticks := <-woken:
		require.GreaterOrEqual(t, ticks, uint64(3))
	case <-time.After(5 * time.Second):
		t.Fatal("sleep_ticks never woke")
	}
}

// TestSleepTicksZeroReturnsImmediately covers spec §8's boundary
// behavior: sleep_ticks(0) returns without going SLEEPING.
func TestSleepTicksZeroReturnsImmediately(t *testing.T) {
	table, cpu := newRunningTable(t, 4, 64)
	p, err := table.Alloc()
	require.Zero(t, err)

	cpu.SleepTicks(p, 0)
	require.NotEqual(t, defs.SLEEPING, p.State)
	_ = table
}
