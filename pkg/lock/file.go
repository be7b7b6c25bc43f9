package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const defaultPollInterval = 50 * time.Millisecond

// FileLocker takes an advisory flock on "<key>.lock". The lock file is
// removed on release, while the flock is still held, so no file outlives a
// build. The kernel drops the lock when the holder exits.
type FileLocker struct {
	PollInterval time.Duration
}

func NewFileLocker() *FileLocker {
	return &FileLocker{PollInterval: defaultPollInterval}
}

func (l *FileLocker) AcquireLock(ctx context.Context, key string) (Lock, error) {
	path := key + ".lock"

	interval := l.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open lock file: %w", err)
		}

		locked, err := tryLock(f, path)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		if locked {
			return &fileLock{f: f, path: path}, nil
		}
		_ = f.Close()

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for lock %s: %w", path, ctx.Err())
		case <-ticker.C:
		}
	}
}

// tryLock flocks f without blocking. It reports false when another holder
// has the lock, or when the file was unlinked by a releasing holder after f
// was opened; the caller then reopens path.
func tryLock(f *os.File, path string) (bool, error) {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("flock %s: %w", path, err)
	}

	var held, current unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &held); err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := unix.Stat(path, &current); err != nil || held.Ino != current.Ino || held.Dev != current.Dev {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		return false, nil
	}
	return true, nil
}

type fileLock struct {
	f    *os.File
	path string
}

func (l *fileLock) Release() error {
	err := os.Remove(l.path)
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	return errors.Join(
		err,
		unix.Flock(int(l.f.Fd()), unix.LOCK_UN),
		l.f.Close(),
	)
}
