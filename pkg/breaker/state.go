package breaker

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

var (
	errCorruptState = errors.New("corrupt circuit state")
	errWriteState   = errors.New("failed to write circuit state")
)

// StateFile is the conventional file name for the repeater breaker
const StateFile = "repeater_circuit.json"

func loadState(path string) (State, error) {
	if path == "" {
		return State{}, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, fmt.Errorf("%w: %w", errCorruptState, err)
	}
	if state.ConsecutiveFailures < 0 || !finite(state.CooldownUntil) || !finite(state.LastSuccess) {
		return State{}, fmt.Errorf("%w: out of range values", errCorruptState)
	}
	return state, nil
}

// saveState replaces path atomically: write a sibling temp file, sync, rename
func saveState(path string, state State) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", errWriteState, err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", errWriteState, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", errWriteState, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("%w: %w", errWriteState, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("%w: %w", errWriteState, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: %w", errWriteState, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("%w: %w", errWriteState, err)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
