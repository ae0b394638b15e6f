package monitor

import (
	"sync"
	"time"

	"github.com/nicktill/meshstats/pkg/sample"
)

// staleSteps is how many collection steps may pass without data before a
// role is reported stale
const staleSteps = 3

type roleState struct {
	lastIngest        time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
}

// IngestMonitor tracks how recently each role delivered data.
type IngestMonitor struct {
	mu    sync.RWMutex
	steps map[sample.Role]time.Duration
	roles map[sample.Role]*roleState
	now   func() time.Time
}

// NewIngestMonitor creates a monitor. steps is the expected interval per role.
func NewIngestMonitor(steps map[sample.Role]time.Duration) *IngestMonitor {
	return &IngestMonitor{
		steps: steps,
		roles: make(map[sample.Role]*roleState),
		now:   time.Now,
	}
}

func (m *IngestMonitor) state(role sample.Role) *roleState {
	st, ok := m.roles[role]
	if !ok {
		st = &roleState{}
		m.roles[role] = st
	}
	return st
}

// RecordSuccess records data stored for role.
func (m *IngestMonitor) RecordSuccess(role sample.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(role)
	st.lastIngest = m.now()
	st.lastAttempt = st.lastIngest
	st.consecutiveErrors = 0
	st.lastError = ""
}

// RecordFailure records a rejected or failed delivery for role.
func (m *IngestMonitor) RecordFailure(role sample.Role, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(role)
	st.lastAttempt = m.now()
	st.consecutiveErrors++
	if err != nil {
		st.lastError = err.Error()
	}
}

// maxAge is staleSteps collection steps, or one hour when the step is unknown
func (m *IngestMonitor) maxAge(role sample.Role) time.Duration {
	if step := m.steps[role]; step > 0 {
		return staleSteps * step
	}
	return time.Hour
}

// IsHealthy returns true if role delivered data recently.
// Unhealthy conditions:
//   - Never delivered
//   - Nothing for more than three collection steps
//   - More than 3 consecutive failures
func (m *IngestMonitor) IsHealthy(role sample.Role) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy(role)
}

func (m *IngestMonitor) healthy(role sample.Role) bool {
	st, ok := m.roles[role]
	if !ok || st.lastIngest.IsZero() {
		return false
	}
	if m.now().Sub(st.lastIngest) > m.maxAge(role) {
		return false
	}
	return st.consecutiveErrors <= 3
}

// IngestStatus is the freshness of one role for health checks.
type IngestStatus struct {
	Healthy           bool   `json:"healthy"`
	LastIngest        string `json:"last_ingest,omitempty"`
	TimeSinceIngest   string `json:"time_since_ingest,omitempty"`
	MaxAge            string `json:"max_age"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns the freshness of every known role
func (m *IngestMonitor) Status() map[sample.Role]IngestStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	out := make(map[sample.Role]IngestStatus, len(sample.Roles))
	for _, role := range sample.Roles {
		status := IngestStatus{
			Healthy: m.healthy(role),
			MaxAge:  m.maxAge(role).String(),
		}
		if st, ok := m.roles[role]; ok {
			if !st.lastIngest.IsZero() {
				status.LastIngest = st.lastIngest.Format(time.RFC3339)
				status.TimeSinceIngest = now.Sub(st.lastIngest).Round(time.Second).String()
			}
			if !st.lastAttempt.IsZero() {
				status.LastAttempt = st.lastAttempt.Format(time.RFC3339)
			}
			if st.consecutiveErrors > 0 {
				status.ConsecutiveErrors = st.consecutiveErrors
				status.LastError = st.lastError
			}
		}
		out[role] = status
	}
	return out
}
