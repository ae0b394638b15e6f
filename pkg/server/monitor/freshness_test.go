package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/nicktill/meshstats/pkg/sample"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newMonitor() (*IngestMonitor, *clock) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	m := NewIngestMonitor(map[sample.Role]time.Duration{
		sample.Companion: time.Minute,
		sample.Repeater:  15 * time.Minute,
	})
	m.now = c.now
	return m, c
}

func TestIngestMonitor_RecordSuccess(t *testing.T) {
	m, _ := newMonitor()
	m.RecordSuccess(sample.Companion)

	status := m.Status()[sample.Companion]
	if !status.Healthy {
		t.Error("Status should be healthy after success")
	}
	if status.ConsecutiveErrors != 0 {
		t.Errorf("ConsecutiveErrors = %d, want 0", status.ConsecutiveErrors)
	}
	if status.LastIngest == "" {
		t.Error("LastIngest should be set")
	}
	if m.Status()[sample.Repeater].Healthy {
		t.Error("Repeater never delivered and should be unhealthy")
	}
}

func TestIngestMonitor_RecordFailure(t *testing.T) {
	m, _ := newMonitor()
	m.RecordFailure(sample.Repeater, errors.New("invalid payload"))

	status := m.Status()[sample.Repeater]
	if status.ConsecutiveErrors != 1 {
		t.Errorf("ConsecutiveErrors = %d, want 1", status.ConsecutiveErrors)
	}
	if status.LastError != "invalid payload" {
		t.Errorf("LastError = %q, want %q", status.LastError, "invalid payload")
	}
}

func TestIngestMonitor_IsHealthy(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*IngestMonitor, *clock)
		expected bool
	}{
		{
			name:     "never delivered",
			setup:    func(*IngestMonitor, *clock) {},
			expected: false,
		},
		{
			name: "recent delivery",
			setup: func(m *IngestMonitor, _ *clock) {
				m.RecordSuccess(sample.Repeater)
			},
			expected: true,
		},
		{
			name: "within three steps",
			setup: func(m *IngestMonitor, c *clock) {
				m.RecordSuccess(sample.Repeater)
				c.t = c.t.Add(45 * time.Minute)
			},
			expected: true,
		},
		{
			name: "stale delivery",
			setup: func(m *IngestMonitor, c *clock) {
				m.RecordSuccess(sample.Repeater)
				c.t = c.t.Add(46 * time.Minute)
			},
			expected: false,
		},
		{
			name: "too many consecutive errors",
			setup: func(m *IngestMonitor, _ *clock) {
				m.RecordSuccess(sample.Repeater)
				for i := 0; i < 4; i++ {
					m.RecordFailure(sample.Repeater, errors.New("boom"))
				}
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, c := newMonitor()
			tt.setup(m, c)
			if got := m.IsHealthy(sample.Repeater); got != tt.expected {
				t.Errorf("IsHealthy() = %v, want %v", got, tt.expected)
			}
		})
	}
}
