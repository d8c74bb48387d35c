// Package hal declares the collaborator contracts spec.md leaves to
// external hardware/platform code: the serial console, the platform
// interrupt controller, and the timer. Each interface gets a minimal
// default implementation here so the kernel is host-testable without
// real RISC-V hardware.
//
// Grounded on gopher-os-gopher-os's kernel/hal package: a small set of
// singleton-style hardware handles the rest of the kernel programs
// against, with a concrete driver wired in at boot (hal.ActiveTerminal /
// hal.InitTerminal there; hal.Console / hal.NewLoopbackConsole here).
package hal

import (
	"sync"

	"github.com/TheBreeze12/RISCV-OS/defs"
	"github.com/TheBreeze12/RISCV-OS/fsif"
	"github.com/TheBreeze12/RISCV-OS/vm"
)

// Console is the serial/console collaborator spec §6 routes fd 0/1/2
// through. Cooking (line editing, echo) is an external concern; Console
// only moves raw bytes.
type Console interface {
	ReadByte() (byte, bool)
	WriteByte(b byte)
}

// PLIC is the platform-level interrupt controller collaborator spec
// §4.3's "external interrupt" case claims from and completes against.
type PLIC interface {
	Claim() (irq uint32, ok bool)
	Complete(irq uint32)
}

// Timer is the time-keeping collaborator: it owns the actual hardware
// compare register. sched.CPU.Tick() advances the kernel's own tick
// counter; Timer.SetCompare schedules the next interrupt that will
// invoke it.
type Timer interface {
	Now() uint64
	SetCompare(deadline uint64)
}

// ELFLoader is exec's external collaborator (spec §9 Open Question: the
// canonical exec semantics follow whichever pipeline invokes the
// filesystem's namei/ilock/readi — that pipeline lives entirely in this
// collaborator, not in the kernel core).
type ELFLoader interface {
	// Load reads the ELF image already open as f and maps its segments
	// into as starting at user address 0, returning the entry point and
	// the total mapped image size. exec owns opening f through the FS
	// collaborator and building/tearing down as; Load only ever sees an
	// address space with no user mappings yet.
	Load(f fsif.File, as *vm.AddressSpace, argv []string) (entry uintptr, sz int, err defs.Err_t)
}

// LoopbackConsole is a ring-buffer Console for tests and for booting
// without a real UART: WriteByte appends to an output log, ReadByte
// drains an input queue callers can prime.
type LoopbackConsole struct {
	mu  sync.Mutex
	out []byte
	in  []byte
}

func NewLoopbackConsole() *LoopbackConsole { return &LoopbackConsole{} }

func (c *LoopbackConsole) WriteByte(b byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, b)
}

func (c *LoopbackConsole) ReadByte() (byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.in) == 0 {
		return 0, false
	}
	b := c.in[0]
	c.in = c.in[1:]
	return b, true
}

// Feed primes bytes for a future ReadByte, as if typed at the console.
func (c *LoopbackConsole) Feed(b ...byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in = append(c.in, b...)
}

// Output returns everything written so far.
func (c *LoopbackConsole) Output() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.out))
	copy(out, c.out)
	return out
}

// NullPLIC never has a pending claim; used when no device interrupts are
// under test.
type NullPLIC struct{}

func (NullPLIC) Claim() (uint32, bool) { return 0, false }
func (NullPLIC) Complete(uint32)       {}

// VirtualTimer is a software stand-in for the SBI/CLINT timer: Now is a
// logical counter advanced explicitly by test code (never by a real
// clock), and SetCompare just records the next requested deadline.
type VirtualTimer struct {
	mu       sync.Mutex
	now      uint64
	compare  uint64
}

func NewVirtualTimer() *VirtualTimer { return &VirtualTimer{} }

func (t *VirtualTimer) Now() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now
}

func (t *VirtualTimer) SetCompare(deadline uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.compare = deadline
}

// Compare reports the currently programmed deadline, for tests asserting
// that a timer interrupt reprograms the next one (spec §4.3).
func (t *VirtualTimer) Compare() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.compare
}

// Advance moves the virtual clock forward by n and reports whether the
// programmed compare deadline has now been reached.
func (t *VirtualTimer) Advance(n uint64) (fired bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now += n
	return t.now >= t.compare
}
