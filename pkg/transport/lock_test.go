package transport

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLock_AcquireRelease(t *testing.T) {
	lock := NewLock(filepath.Join(t.TempDir(), "serial.lock"))

	release, err := lock.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	release()
	release() // idempotent

	release, err = lock.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	release()
}

func TestLock_TimeoutWhileHeld(t *testing.T) {
	lock := NewLock("")

	release, err := lock.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer release()

	_, err = lock.Acquire(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrLockTimeout)

	var timeoutErr *LockTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	require.Equal(t, 20*time.Millisecond, timeoutErr.Timeout)
}

func TestLock_FileLockExcludesSecondLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serial.lock")
	first := NewLock(path)
	second := NewLock(path)
	second.poll = 5 * time.Millisecond

	release, err := first.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	_, err = second.Acquire(context.Background(), 30*time.Millisecond)
	require.ErrorIs(t, err, ErrLockTimeout)

	release()

	releaseSecond, err := second.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	releaseSecond()
}

func TestLock_ZeroTimeoutTakesFreeLock(t *testing.T) {
	lock := NewLock(filepath.Join(t.TempDir(), "serial.lock"))
	for i := 0; i < 50; i++ {
		release, err := lock.Acquire(context.Background(), 0)
		require.NoError(t, err, "attempt %d", i)
		release()
	}

	release, err := lock.Acquire(context.Background(), 0)
	require.NoError(t, err)
	defer release()
	_, err = lock.Acquire(context.Background(), 0)
	require.ErrorIs(t, err, ErrLockTimeout)
}

func TestLock_CallerCancellation(t *testing.T) {
	lock := NewLock("")
	release, err := lock.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = lock.Acquire(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCommandError(t *testing.T) {
	err := error(&CommandError{Command: CmdRepeaterStatus, Reason: ErrNoResponse})
	require.ErrorIs(t, err, ErrNoResponse)
	require.Equal(t, "req_status: no response received", err.Error())
}
