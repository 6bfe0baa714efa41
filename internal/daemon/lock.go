package daemon

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is created in the store directory while it is served.
const LockFileName = ".rmxfs.lock"

// ErrStoreBusy means another rmxfs process serves the same store.
var ErrStoreBusy = errors.New("store is already served by another rmxfs instance")

// LockStore takes the single-writer lock of the store at source. The
// caller releases it with Unlock.
func LockStore(source string) (*flock.Flock, error) {
	lock := flock.New(filepath.Join(source, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", source, ErrStoreBusy)
	}
	return lock, nil
}
