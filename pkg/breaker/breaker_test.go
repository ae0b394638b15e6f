package breaker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(t *testing.T) (*Breaker, *fakeClock, string) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	path := filepath.Join(t.TempDir(), StateFile)
	return New(path, WithClock(clock.Now)), clock, path
}

func TestBreaker_Threshold(t *testing.T) {
	b, _, _ := newTestBreaker(t)

	for i := 1; i < 6; i++ {
		require.NoError(t, b.RecordFailure(6, time.Hour))
		require.False(t, b.IsOpen(), "open after %d failures", i)
	}

	require.NoError(t, b.RecordFailure(6, time.Hour))
	require.True(t, b.IsOpen())
	require.Equal(t, time.Hour, b.CooldownRemaining())
}

func TestBreaker_CooldownMeasuredFromThresholdFailure(t *testing.T) {
	b, clock, _ := newTestBreaker(t)

	require.NoError(t, b.RecordFailure(2, 10*time.Minute))
	clock.Advance(5 * time.Minute)
	require.NoError(t, b.RecordFailure(2, 10*time.Minute))

	require.Equal(t, 10*time.Minute, b.CooldownRemaining())

	clock.Advance(10*time.Minute - time.Second)
	require.True(t, b.IsOpen())
	clock.Advance(time.Second)
	require.False(t, b.IsOpen())
	require.Equal(t, time.Duration(0), b.CooldownRemaining())
}

func TestBreaker_FailureWhileOpenExtendsCooldown(t *testing.T) {
	b, clock, _ := newTestBreaker(t)

	require.NoError(t, b.RecordFailure(1, time.Minute))
	clock.Advance(30 * time.Second)
	require.NoError(t, b.RecordFailure(1, time.Minute))
	require.Equal(t, time.Minute, b.CooldownRemaining())
	require.Equal(t, 2, b.State().ConsecutiveFailures)
}

func TestBreaker_RecordSuccessResets(t *testing.T) {
	b, clock, _ := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.RecordFailure(3, time.Minute))
	}
	require.True(t, b.IsOpen())

	require.NoError(t, b.RecordSuccess())
	state := b.State()
	require.Equal(t, 0, state.ConsecutiveFailures)
	require.Equal(t, float64(clock.Now().Unix()), state.LastSuccess)

	// The cooldown that was already set still expires on its own
	require.True(t, b.IsOpen())
	clock.Advance(time.Minute)
	require.False(t, b.IsOpen())

	// A single failure after reset does not reopen with threshold 3
	require.NoError(t, b.RecordFailure(3, time.Minute))
	require.False(t, b.IsOpen())
}

func TestBreaker_PersistsAcrossInstances(t *testing.T) {
	b, clock, path := newTestBreaker(t)

	require.NoError(t, b.RecordFailure(2, time.Hour))
	require.NoError(t, b.RecordFailure(2, time.Hour))

	reloaded := New(path, WithClock(clock.Now))
	require.True(t, reloaded.IsOpen())
	require.Equal(t, 2, reloaded.State().ConsecutiveFailures)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	require.Contains(t, fields, "consecutive_failures")
	require.Contains(t, fields, "cooldown_until")
	require.Contains(t, fields, "last_success")

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	require.Empty(t, matches, "temp files left behind")
}

func TestBreaker_MalformedStateStartsClosed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"garbage", "{not json"},
		{"wrong types", `{"consecutive_failures": "many"}`},
		{"negative", `{"consecutive_failures": -4, "cooldown_until": 99999999999}`},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), StateFile)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			b := New(path)
			require.False(t, b.IsOpen())
			require.Equal(t, State{}, b.State())
		})
	}
}

func TestBreaker_MissingFieldsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"consecutive_failures": 2, "extra": true}`), 0o644))

	b := New(path)
	require.Equal(t, State{ConsecutiveFailures: 2}, b.State())
	require.False(t, b.IsOpen())
}

func TestBreaker_Status(t *testing.T) {
	b, _, _ := newTestBreaker(t)

	status := b.Status()
	require.False(t, status.Open)
	require.Empty(t, status.LastSuccess)

	require.NoError(t, b.RecordSuccess())
	require.NoError(t, b.RecordFailure(1, 90*time.Second))

	status = b.Status()
	require.True(t, status.Open)
	require.Equal(t, 1, status.ConsecutiveFailures)
	require.Equal(t, "1m30s", status.CooldownRemaining)
	require.NotEmpty(t, status.LastSuccess)
}

func TestBreaker_NoPathIsInMemory(t *testing.T) {
	b := New("")
	require.NoError(t, b.RecordFailure(1, time.Minute))
	require.True(t, b.IsOpen())
}

func TestBreaker_ReloadSeesOtherWriter(t *testing.T) {
	writer, clock, path := newTestBreaker(t)
	reader := New(path, WithClock(clock.Now))
	require.False(t, reader.IsOpen())

	require.NoError(t, writer.RecordFailure(1, time.Hour))
	require.False(t, reader.IsOpen(), "state is only read on load")

	require.NoError(t, reader.Reload())
	require.True(t, reader.IsOpen())
	require.Equal(t, 1, reader.State().ConsecutiveFailures)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	require.Error(t, reader.Reload())
	require.True(t, reader.IsOpen(), "corrupt file keeps the last good state")
}
