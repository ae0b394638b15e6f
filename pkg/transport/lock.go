package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrLockTimeout is wrapped by LockTimeoutError
var ErrLockTimeout = errors.New("transport lock timeout")

// LockTimeoutError is returned when exclusive access was not granted in time
type LockTimeoutError struct {
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("%v after %v", ErrLockTimeout, e.Timeout)
}

func (e *LockTimeoutError) Unwrap() error {
	return ErrLockTimeout
}

const lockPollInterval = 100 * time.Millisecond

// Lock serializes access to the single device link. Inside the process it
// is a one-slot semaphore; when a path is set it also holds an advisory file
// lock so separate collector processes exclude each other.
type Lock struct {
	sem  chan struct{}
	path string
	poll time.Duration
}

// NewLock creates a lock. path may be empty for in-process exclusion only.
func NewLock(path string) *Lock {
	return &Lock{
		sem:  make(chan struct{}, 1),
		path: path,
		poll: lockPollInterval,
	}
}

// Acquire waits up to timeout for exclusive access. The returned release
// function is safe to call more than once and must run on every exit path.
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// A free slot is taken even when timeout has already elapsed
	select {
	case l.sem <- struct{}{}:
	default:
		select {
		case l.sem <- struct{}{}:
		case <-waitCtx.Done():
			return nil, l.waitError(ctx, timeout)
		}
	}

	var file *os.File
	if l.path != "" {
		f, err := l.lockFile(waitCtx)
		if err != nil {
			<-l.sem
			if waitCtx.Err() != nil {
				return nil, l.waitError(ctx, timeout)
			}
			return nil, err
		}
		file = f
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			if file != nil {
				_ = unlockFile(file)
				_ = file.Close()
			}
			<-l.sem
		})
	}
	return release, nil
}

func (l *Lock) lockFile(ctx context.Context) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		locked, err := tryLockFile(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to lock %s: %w", l.path, err)
		}
		if locked {
			return f, nil
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// waitError prefers the caller's cancellation over our own timeout
func (l *Lock) waitError(parent context.Context, timeout time.Duration) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return &LockTimeoutError{Timeout: timeout}
}
