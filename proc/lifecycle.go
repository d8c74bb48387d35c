package proc

import (
	"github.com/TheBreeze12/RISCV-OS/defs"
	"github.com/TheBreeze12/RISCV-OS/internal/diag"
	"github.com/TheBreeze12/RISCV-OS/mem"
	"github.com/TheBreeze12/RISCV-OS/vm"
)

// ForkRet is the universal "new process's first return" hook (spec
// §4.4): on its very first invocation it performs deferred filesystem
// initialization (an external collaborator's hook, invoked at most once
// across the whole table), then falls through into usertrapret.
type ForkRet func(p *Proc, firstProcess bool)

var forkRetFSInit bool

// RunForkRet is what every Spawn'd goroutine calls as its body. usertrapret
// is the caller-supplied continuation that actually returns to user mode
// (package trap); fsInit runs exactly once, on whichever process reaches
// ForkRet first.
func RunForkRet(p *Proc, fsInit func(), usertrapret func(p *Proc)) {
	if !forkRetFSInit {
		forkRetFSInit = true
		if fsInit != nil {
			fsInit()
		}
	}
	usertrapret(p)
}

// UserInit creates the first process (spec §4.4): a freshly-allocated
// user page holding the init blob, PC=0, SP=PAGE, transitioned to
// RUNNABLE.
func (t *Table) UserInit(initBlob []byte, usertrapret func(p *Proc)) *Proc {
	p, err := t.Alloc()
	if err != 0 {
		diag.Fatal("proc.UserInit: alloc_proc failed: %d", err)
	}
	if len(initBlob) > vm.PGSIZE {
		diag.Fatal("proc.UserInit: init blob larger than one page")
	}

	sz, growErr := p.Pagetable.GrowUser(0, vm.PGSIZE, vm.PteX)
	if growErr != 0 {
		diag.Fatal("proc.UserInit: grow_user failed: %d", growErr)
	}
	p.Sz = sz
	if err := p.Pagetable.CopyOut(0, initBlob); err != 0 {
		diag.Fatal("proc.UserInit: copy_out failed: %d", err)
	}

	p.Trapframe.Epc = 0
	p.Trapframe.Sp = uint64(vm.PGSIZE)
	copy(p.Name[:], "initcode")

	t.InitProc = p
	p.State = defs.RUNNABLE

	p.Spawn(func(p *Proc) {
		RunForkRet(p, nil, usertrapret)
	})
	return p
}

// Fork duplicates the calling process into a freshly allocated slot
// (spec §4.4): copy the address space and trapframe, force the child's
// return value to 0, link the parent, copy the name, mark RUNNABLE.
// Returns the child PID, or -1 on failure.
func (t *Table) Fork(parent *Proc, usertrapret func(p *Proc)) int {
	child, err := t.Alloc()
	if err != 0 {
		return -1
	}

	if cerr := vm.CopyAddressSpace(parent.Pagetable, child.Pagetable, parent.Sz); cerr != 0 {
		t.Free(child)
		return -1
	}
	child.Sz = parent.Sz

	*child.Trapframe = *parent.Trapframe
	child.Trapframe.A0 = 0

	for i, f := range parent.Files {
		if f != nil {
			f.Reopen()
		}
		child.Files[i] = f
	}

	child.Parent = parent
	child.Name = parent.Name

	pid := int(child.Pid)
	child.State = defs.RUNNABLE

	child.Spawn(func(p *Proc) {
		RunForkRet(p, nil, usertrapret)
	})
	return pid
}

// Exec installs a newly built and loader-populated address space in
// place of p's current one (spec §4.4/§9 Open Question #1 exec): the
// caller (syscall.sysExec) builds newPt via NewUserPagetable and drives
// an hal.ELFLoader to populate it before this is ever called, so the
// swap itself cannot fail. The old address space is discarded only
// after the new one is fully live.
func (t *Table) Exec(p *Proc, newPt *vm.AddressSpace, newTfPa mem.Pa, sz int, entry uint64) {
	oldPt := p.Pagetable
	oldSz := p.Sz

	p.Pagetable = newPt
	p.tfPa = newTfPa
	p.Trapframe = asTrapframe(t.alloc.Frame(newTfPa))
	p.Sz = sz
	p.Trapframe.Epc = entry
	p.Trapframe.Sp = uint64(sz)

	t.FreeUserPagetable(oldPt, oldSz)
}

// reparent moves every child of p to init, per exit's reparenting rule
// (spec §4.4).
func (t *Table) reparent(p *Proc) {
	for _, c := range t.procs {
		if c.State != defs.UNUSED && c.Parent == p {
			c.Parent = t.InitProc
		}
	}
}

// Exit implements exit(status) (spec §4.4): record status, become
// ZOMBIE, reparent descendants to init and wake it, wake the parent, and
// give up the CPU for good. The scheduler never resumes the slot again;
// Exit itself returns to its caller, whose goroutine then runs to its end.
func (t *Table) Exit(p *Proc, status int) {
	t.reparent(p)
	if t.InitProc != nil && t.InitProc != p {
		t.sched.Wakeup(chanOf(t.InitProc))
	}

	p.Xstate = status
	p.State = defs.ZOMBIE
	if p.Parent != nil {
		t.sched.Wakeup(chanOf(p.Parent))
	}
	t.sched.ExitCPU(p)
}

// chanOf derives a stable sleep-channel value from a process slot's
// identity, used by wait()'s "sleep on the caller's own address" and by
// exit's corresponding wakeup.
func chanOf(p *Proc) uintptr {
	return uintptr(p.Pid) + 1
}

// Wait implements wait(user_addr?) (spec §4.4): scan for a ZOMBIE child,
// reap it and return its PID (optionally copying its exit status out),
// or sleep and retry if live children remain, or fail if none exist.
func (t *Table) Wait(parent *Proc, copyStatus func(status int) defs.Err_t) int {
	for {
		haveChildren := false
		for _, c := range t.procs {
			if c.State == defs.UNUSED || c.Parent != parent {
				continue
			}
			haveChildren = true
			if c.State == defs.ZOMBIE {
				pid := int(c.Pid)
				if copyStatus != nil {
					if err := copyStatus(c.Xstate); err != 0 {
						t.Free(c)
						return -1
					}
				}
				t.Free(c)
				return pid
			}
		}
		if !haveChildren || parent.Killed {
			return -1
		}
		t.sched.Sleep(parent, chanOf(parent))
	}
}

// Kill implements kill(pid) (spec §4.4): set the killed flag; if the
// target is SLEEPING, transition it to RUNNABLE so it observes the flag
// at its next check.
func (t *Table) Kill(pid defs.Pid_t) defs.Err_t {
	p := t.Lookup(pid)
	if p == nil {
		return defs.Fail(defs.ESRCH)
	}
	p.Killed = true
	if p.State == defs.SLEEPING {
		p.State = defs.RUNNABLE
	}
	return 0
}

// GrowProc implements grow_proc(n) (spec §4.4): adjust user memory by n
// bytes (positive grows, negative shrinks) via grow_user/shrink_user.
func (t *Table) GrowProc(p *Proc, n int) defs.Err_t {
	old := p.Sz
	if n > 0 {
		newSz, err := p.Pagetable.GrowUser(old, old+n, 0)
		if err != 0 {
			return err
		}
		p.Sz = newSz
		return 0
	}
	if n < 0 {
		p.Sz = p.Pagetable.ShrinkUser(old, old+n)
	}
	return 0
}
