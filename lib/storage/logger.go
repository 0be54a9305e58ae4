package storage

import "log"

// --------------------------------------------------------------------------
// Operation Logging
// --------------------------------------------------------------------------

// LogFlag selects which operation groups a storage manager logs.
type LogFlag uint16

const (
	LogDDL LogFlag = 1 << iota
	LogRegister
	LogReserve
	LogSave
	LogDestroy
	LogRecall
	LogView
	// LogIO covers swallowed best-effort failures (cache writes).
	LogIO

	LogNone LogFlag = 0
	LogAll  LogFlag = 0xffff
)

// Logger is the flag-gated logging sink embedded by storage managers.
// The zero value logs nothing. Logf defaults to the stdlib logger.
//
// Thread-safety: configure Flags and Logf before sharing the manager;
// Log itself takes no locks.
type Logger struct {
	Flags LogFlag
	Logf  func(format string, args ...any)
}

// Log emits one line when the flag is enabled. A nil receiver is silent,
// so embedding managers never have to nil-check.
func (l *Logger) Log(flag LogFlag, format string, args ...any) {
	if l == nil || l.Flags&flag == 0 {
		return
	}
	if l.Logf != nil {
		l.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}
