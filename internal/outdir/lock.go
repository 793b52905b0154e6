package outdir

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another run holds the directory.
var ErrLocked = errors.New("output directory is in use by another run")

// Lock is an advisory, cross-process lock on an output directory. The
// lock file lives outside the directory so clearing never touches it.
type Lock struct {
	lock *flock.Flock
}

// LockPath returns the lock file used for dir.
func LockPath(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(abs))
	return filepath.Join(os.TempDir(), "wavy-"+hex.EncodeToString(sum[:8])+".lock"), nil
}

// Acquire takes the lock without waiting.
func Acquire(dir string) (*Lock, error) {
	path, err := LockPath(dir)
	if err != nil {
		return nil, err
	}

	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", dir, ErrLocked)
	}
	return &Lock{lock: fl}, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	return l.lock.Unlock()
}
