package ingest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// lockFileName is created inside the lock directory.
const lockFileName = ".ingest.lock"

// acquireIngestLock takes the cross-process ingest lock in dir without
// waiting. It returns ErrLocked while another run holds it; otherwise the
// returned release function must be called when the run ends.
func acquireIngestLock(dir string) (release func() error, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	path := filepath.Join(dir, lockFileName)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire ingest lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock: %s)", ErrLocked, path)
	}
	return fl.Unlock, nil
}
