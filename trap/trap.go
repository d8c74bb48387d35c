// Package trap implements the cause classification and dispatch of spec
// §4.3: kerneltrap, usertrap, and usertrapret. The actual trap entry
// vectors (kernelvec/uservec/the trampoline's asm stubs) are a hardware
// boundary Go cannot meaningfully execute on a host machine, so this
// package starts one step in: it is handed the already-decoded scause/
// stval/sepc values a real vector would have produced, classifies them
// exactly as spec §4.3 describes, and calls back into proc/sched/
// syscall to do the kernel-side work.
//
// Grounded on original_source/kernel/trap/trap.c's kerneltrap/
// handle_exception/handle_syscall cause-classification shape (the
// scause-interrupt-bit check, the cause switch, "advance epc past the
// ecall" comment) and original_source/kernel/trap/syscall.c's dispatch
// table, reworked from that file's TODO-stub handlers into the real
// proc/vm-backed behavior spec.md requires.
package trap

import (
	"github.com/TheBreeze12/RISCV-OS/hal"
	"github.com/TheBreeze12/RISCV-OS/internal/diag"
	"github.com/TheBreeze12/RISCV-OS/proc"
	"github.com/TheBreeze12/RISCV-OS/sched"
)

// Cause values, RISC-V privileged spec encoding (scause CSR). The
// interrupt bit occupies the top bit of the register; InterruptBit masks
// it off to recover the numeric cause below.
const InterruptBit = uint64(1) << 63

const (
	CauseSoftwareInterrupt = 1
	CauseTimerInterrupt    = 5
	CauseExternalInterrupt = 9
)

const (
	CauseInstructionMisaligned = 0
	CauseInstructionFault      = 1
	CauseIllegalInstruction    = 2
	CauseBreakpoint            = 3
	CauseLoadMisaligned        = 4
	CauseLoadFault             = 5
	CauseStoreMisaligned       = 6
	CauseStoreFault            = 7
	CauseUserECall             = 8
	CauseSupervisorECall       = 9
	CauseInstructionPageFault  = 12
	CauseLoadPageFault         = 13
	CauseStorePageFault        = 15
)

// KernelTrap implements spec §4.3's kerneltrap: classifies a trap that
// occurred while already in supervisor mode. Anything other than a
// timer or external interrupt is a fatal invariant violation (spec §7).
func KernelTrap(c *sched.CPU, timer hal.Timer, plic hal.PLIC, timerInterval uint64, scause uint64) {
	if scause&InterruptBit == 0 {
		diag.Fatal("kerneltrap: unexpected supervisor exception, scause=%#x", scause)
	}
	switch scause &^ InterruptBit {
	case CauseTimerInterrupt:
		timer.SetCompare(timer.Now() + timerInterval)
		c.Tick()
		if c.Current != nil {
			c.Yield(c.Current)
		}
	case CauseExternalInterrupt:
		if irq, ok := plic.Claim(); ok {
			plic.Complete(irq)
		}
	default:
		diag.Fatal("kerneltrap: unknown interrupt cause %#x", scause&^InterruptBit)
	}
}

// Dispatch is the syscall entry point package syscall provides; kept as
// an interface here to avoid trap importing syscall's concrete types.
type Dispatch func(p *proc.Proc)

// UserTrap implements spec §4.3's usertrap. p.Trapframe.Epc must already
// hold the faulting/ecall instruction's address (the value usertrap
// would have read from sepc). usertrapret is called when the process is
// still alive at the end; t.Exit handles the cases that terminate it.
func UserTrap(t *proc.Table, c *sched.CPU, p *proc.Proc, scause, stval uint64,
	timer hal.Timer, plic hal.PLIC, timerInterval uint64, dispatch Dispatch, usertrapret func(*proc.Proc)) {

	if scause&InterruptBit != 0 {
		switch scause &^ InterruptBit {
		case CauseTimerInterrupt:
			timer.SetCompare(timer.Now() + timerInterval)
			c.Tick()
			c.Yield(p)
		case CauseExternalInterrupt:
			if irq, ok := plic.Claim(); ok {
				plic.Complete(irq)
			}
		default:
			diag.Fatal("usertrap: unknown interrupt cause %#x", scause&^InterruptBit)
		}
		usertrapret(p)
		return
	}

	switch scause {
	case CauseUserECall:
		p.Trapframe.Epc += 4
		dispatch(p)
		if p.Killed {
			t.Exit(p, -1)
			return
		}
	default:
		p.Killed = true
		t.Exit(p, -1)
		return
	}

	// stval carries the faulting address on a page fault; real hardware
	// would feed it to the page-fault diagnostic here. The host model
	// has no MMU trap source to report one from, so it stays unread.
	_ = stval
	usertrapret(p)
}

// UserTrapRet implements spec §4.3's usertrapret: populate the
// trapframe's kernel-side fields and return the SATP value the
// trampoline's return stub must install to resume the user address
// space. Everything past that (writing sepc, setting sstatus.SPP/SPIE,
// the actual `sret`) is the trampoline's asm, outside what a hosted Go
// build can execute.
func UserTrapRet(p *proc.Proc, kernelSatp, kernelTrapAddr, hartid uint64) uint64 {
	p.Trapframe.KernelSatp = kernelSatp
	p.Trapframe.KernelSp = uint64(p.KstackVa) + uint64(4096)
	p.Trapframe.KernelTrap = kernelTrapAddr
	p.Trapframe.KernelHartid = hartid
	return p.Pagetable.Satp()
}
