//go:build unix

package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ValentinKolb/dLock/lib/provider"
	"golang.org/x/sys/unix"
)

// --------------------------------------------------------------------------
// Filesystem Provider
// --------------------------------------------------------------------------

const (
	lockSuffix    = ".lck"
	requestSuffix = ".req"
)

// fsProvider coordinates processes on one host through flock(2).
//
// Per lock name two files exist in the configured directory:
//
//   - <name>.lck carries the exclusive lock (LOCK_EX)
//   - <name>.req carries the request markers (LOCK_SH, so any number of
//     waiters can hold one simultaneously)
//
// Probing for markers tries LOCK_EX on the request file without blocking:
// if that fails, somebody holds the file shared and therefore wants the
// lock. The kernel releases flocks when the owning process dies, which
// gives us the required token lifetime for free.
type fsProvider struct {
	dir string
}

// NewFSLockProvider creates a flock(2) based provider rooted at dir. The
// directory is created if it does not exist; all processes that should
// coordinate must use the same directory.
func NewFSLockProvider(dir string) (provider.ILockProvider, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory %s: %w", dir, err)
	}
	return &fsProvider{dir: dir}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see provider/interface.go)
// --------------------------------------------------------------------------

func (p *fsProvider) Name() string {
	return "fs"
}

func (p *fsProvider) GetLock(name string) (provider.IToken, error) {
	return p.tryFlock(name, lockSuffix, unix.LOCK_EX)
}

func (p *fsProvider) GetLockRequest(name string) (provider.IToken, error) {
	return p.tryFlock(name, requestSuffix, unix.LOCK_SH)
}

func (p *fsProvider) CheckLockRequest(name string) (bool, error) {
	f, err := os.OpenFile(p.path(name, requestSuffix), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false, provider.NewError(p.Name(), "CheckLockRequest", name, err)
	}
	defer f.Close()

	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		// Somebody holds the request file shared: a waiter exists.
		return true, nil
	}
	if err != nil {
		return false, provider.NewError(p.Name(), "CheckLockRequest", name, err)
	}

	// Nobody wants the lock; give the probe lock back right away.
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (p *fsProvider) path(name, suffix string) string {
	return filepath.Join(p.dir, sanitizeName(name)+suffix)
}

// tryFlock opens (creating if needed) the lock file and takes the
// requested flock without blocking. A held lock yields (nil, nil).
func (p *fsProvider) tryFlock(name, suffix string, how int) (provider.IToken, error) {
	f, err := os.OpenFile(p.path(name, suffix), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, provider.NewError(p.Name(), "flock", name, err)
	}

	if err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, nil
		}
		return nil, provider.NewError(p.Name(), "flock", name, err)
	}

	return &fsToken{file: f}, nil
}

// --------------------------------------------------------------------------
// Token
// --------------------------------------------------------------------------

// fsToken holds the flocked file. Closing the descriptor drops the flock;
// the explicit LOCK_UN just releases it a little earlier.
type fsToken struct {
	file *os.File
	once sync.Once
}

func (t *fsToken) Release() error {
	var err error
	t.once.Do(func() {
		if unlockErr := unix.Flock(int(t.file.Fd()), unix.LOCK_UN); unlockErr != nil {
			err = unlockErr
		}
		if closeErr := t.file.Close(); err == nil {
			err = closeErr
		}
	})
	return err
}
