package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingSleep struct {
	calls []time.Duration
}

func (r *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	r.calls = append(r.calls, d)
	return ctx.Err()
}

func TestDo_SuccessOnFirstTry(t *testing.T) {
	sleeper := &recordingSleep{}
	calls := 0

	res := Do(context.Background(), Policy{Attempts: 5, Backoff: time.Second, Sleep: sleeper.Sleep},
		func(ctx context.Context) (string, error) {
			calls++
			return "ok", nil
		})

	require.True(t, res.OK)
	require.Equal(t, "ok", res.Value)
	require.NoError(t, res.Err)
	require.NoError(t, res.Error())
	require.Equal(t, 1, calls)
	require.Equal(t, 1, res.Attempts)
	require.Empty(t, sleeper.calls)
}

func TestDo_Exhaustion(t *testing.T) {
	sleeper := &recordingSleep{}
	calls := 0
	errs := []error{errors.New("first"), errors.New("second"), errors.New("third")}

	res := Do(context.Background(), Policy{Attempts: 3, Backoff: 4 * time.Second, Name: "req_status", Sleep: sleeper.Sleep},
		func(ctx context.Context) (int, error) {
			err := errs[calls]
			calls++
			return 0, err
		})

	require.False(t, res.OK)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{4 * time.Second, 4 * time.Second}, sleeper.calls)
	require.Equal(t, errs[2], res.Err, "only the most recent error is kept")

	var exhausted *ExhaustedError
	require.ErrorAs(t, res.Error(), &exhausted)
	require.Equal(t, "req_status", exhausted.Name)
	require.Equal(t, 3, exhausted.Attempts)
	require.ErrorIs(t, res.Error(), errs[2])
	require.Equal(t, "req_status failed 3/3 attempts: third", res.Error().Error())
}

func TestDo_SucceedsOnLaterAttempt(t *testing.T) {
	sleeper := &recordingSleep{}
	calls := 0

	res := Do(context.Background(), Policy{Attempts: 4, Backoff: time.Second, Sleep: sleeper.Sleep},
		func(ctx context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("no response")
			}
			return 42, nil
		})

	require.True(t, res.OK)
	require.Equal(t, 42, res.Value)
	require.Equal(t, 3, calls)
	require.Len(t, sleeper.calls, 2)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	res := Do(context.Background(), Policy{Attempts: 0},
		func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("boom")
		})

	require.False(t, res.OK)
	require.Equal(t, 1, calls)
}

func TestDo_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	res := Do(ctx, Policy{Attempts: 3, Backoff: time.Hour},
		func(ctx context.Context) (int, error) {
			calls++
			cancel()
			return 0, errors.New("timeout")
		})

	require.False(t, res.OK)
	require.Equal(t, 1, calls)
	require.ErrorIs(t, res.Err, context.Canceled)
	require.Equal(t, "operation failed 1/3 attempts: context canceled", res.Error().Error())
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))
	require.NoError(t, sleepContext(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
