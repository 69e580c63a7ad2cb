//go:build unix

package silk

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/nghianinhnb/semantic-web-football-kg/internal/model"
)

// acquireLaunchLock serializes workbench launches per workspace with an
// advisory flock. A held lock fails fast with model.ErrLaunchLocked
// instead of racing the remove and create of the named container.
func acquireLaunchLock(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("lock file %s is held: %w", path, model.ErrLaunchLocked)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}
