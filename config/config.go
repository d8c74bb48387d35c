// Package config collects the small set of boot-time tunables that the
// ambient stack (spec.md's distillation left these as implicit constants)
// needs named and overridable for tests, rather than scattered across
// every package as untyped literals.
package config

// Config holds the knobs cmd/kernel's main threads through proc/sched/trap
// initialization. The zero value is invalid; use Default().
type Config struct {
	// NProc is the size of the fixed process table (spec §3).
	NProc int
	// TimerInterval is the fixed tick count between timer acknowledgements
	// (spec §4.3's "fixed interval of TIMER_TICKS ticks").
	TimerInterval uint64
	// KstackPages records the kernel-stack size in pages. Nothing reads it:
	// proc always maps exactly one page per kernel stack.
	KstackPages int
}

// Default returns the tunables used by cmd/kernel's boot sequence.
func Default() Config {
	return Config{
		NProc:         64,
		TimerInterval: 1_000_000,
		KstackPages:   1,
	}
}
