package fs

import (
	"os"
	"time"

	"github.com/mnemo-db/mnemo/lib/storage"
)

// --------------------------------------------------------------------------
// File Lock
// --------------------------------------------------------------------------

// fileLock guards a type directory against writers in other processes.
// Acquisition polls with a bounded sleep: create-exclusive the lock file,
// sleep and retry while it exists, give up after the timeout.
type fileLock struct {
	path    string
	poll    time.Duration
	timeout time.Duration
}

func (l *fileLock) acquire() error {
	deadline := time.Now().Add(l.timeout)
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_ = f.Close()
			return nil
		}
		if !os.IsExist(err) {
			return storage.WrapErr(storage.CodeIO, err, "acquiring lock %q", l.path)
		}
		if time.Now().After(deadline) {
			return storage.Errorf(storage.CodeIO, "timed out waiting for lock %q", l.path)
		}
		time.Sleep(l.poll)
	}
}

func (l *fileLock) release() {
	_ = os.Remove(l.path)
}
