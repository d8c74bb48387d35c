// Package diag implements the fatal-invariant-violation path shared by
// every kernel package (spec §7: "print a diagnostic and halt the hart").
// Grounded on biscuit/src/caller/caller.go's runtime.Caller-based stack
// dump, trimmed to the one thing this core needs: a formatted call chain
// attached to a structured fatal log line.
package diag

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
)

// Log is the kernel-wide structured logger. cmd/kernel may redirect its
// Out to a hal.Console-backed io.Writer; tests leave it at the default
// (stderr) output.
var Log = logrus.New()

// Dump renders the call stack starting `skip` frames above its own caller,
// one line per frame, innermost first.
func Dump(skip int) string {
	s := ""
	for i := skip + 1; ; i++ {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if s == "" {
			s = fmt.Sprintf("%s:%d", f, l)
		} else {
			s += fmt.Sprintf("\n\t<-%s:%d", f, l)
		}
	}
	return s
}

// Fatal logs a formatted invariant violation together with the caller's
// stack, then halts the hart. On the host test build this is a panic; a
// bare-metal boot target would instead disable interrupts and loop
// forever, since there is nowhere left to return to (spec §7).
func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	Log.WithField("stack", Dump(1)).Panicf("fatal invariant violation: %s", msg)
}

// Assert panics via Fatal when cond is false, formatting the remaining
// arguments as the diagnostic message.
func Assert(cond bool, format string, args ...interface{}) {
	if !cond {
		Fatal(format, args...)
	}
}
