// Package collect runs one collection cycle per node role: query the device
// link, store the validated readings and report what happened.
package collect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nicktill/meshstats/pkg/breaker"
	"github.com/nicktill/meshstats/pkg/config"
	"github.com/nicktill/meshstats/pkg/observability"
	"github.com/nicktill/meshstats/pkg/retry"
	"github.com/nicktill/meshstats/pkg/sample"
	"github.com/nicktill/meshstats/pkg/telemetry"
	"github.com/nicktill/meshstats/pkg/transport"
)

// ErrNoData is returned when every companion command failed or returned nothing
var ErrNoData = errors.New("no metrics collected")

// Status is the result class of a collection cycle
type Status string

const (
	Collected Status = "collected"
	Skipped   Status = "skipped" // circuit open, nothing to do
	Failed    Status = "failed"
)

// Outcome describes one collection cycle
type Outcome struct {
	Role       sample.Role
	Status     Status
	Timestamp  int64
	Inserted   int
	Duplicates int
	Telemetry  int
	Cooldown   time.Duration
	Summary    string
	Err        error
}

// OK reports whether the cycle should count as success. A skip caused by an
// open circuit is success with no data.
func (o Outcome) OK() bool {
	return o.Status == Collected || o.Status == Skipped
}

// Sink receives validated readings. storage.Storage and client.Client both
// satisfy it.
type Sink interface {
	InsertFields(ctx context.Context, ts int64, role sample.Role, fields sample.Fields) (int, error)
}

// Locker grants exclusive use of the device link
type Locker interface {
	Acquire(ctx context.Context, timeout time.Duration) (func(), error)
}

// Config holds collection tuning
type Config struct {
	CommandTimeout    time.Duration // per attempt, 0 leaves it to the client
	RemoteAttempts    int
	RemoteBackoff     time.Duration
	BreakerFailures   int
	BreakerCooldown   time.Duration
	TelemetryEnabled  bool
	TelemetryAttempts int
	TelemetryBackoff  time.Duration
	LockTimeout       time.Duration
}

// ConfigFrom maps process configuration onto collection tuning
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		CommandTimeout:    cfg.Remote.Timeout,
		RemoteAttempts:    cfg.Remote.RetryAttempts,
		RemoteBackoff:     cfg.Remote.RetryBackoff,
		BreakerFailures:   cfg.Remote.BreakerFailures,
		BreakerCooldown:   cfg.Remote.BreakerCooldown,
		TelemetryEnabled:  cfg.Telemetry.Enabled,
		TelemetryAttempts: cfg.Telemetry.RetryAttempts,
		TelemetryBackoff:  cfg.Telemetry.RetryBackoff,
		LockTimeout:       cfg.LockTimeout,
	}
}

// Collector runs collection cycles against one device link
type Collector struct {
	client  transport.Client
	store   Sink
	breaker *breaker.Breaker
	lock    Locker
	cfg     Config
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Collector
type Option func(*Collector)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records outcomes, attempts and inserts
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Collector) { c.metrics = m }
}

// WithClock overrides the collection timestamp source
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// WithSleep overrides the retry backoff sleep
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Collector) { c.sleep = sleep }
}

// New creates a collector. The breaker guards repeater status queries only.
func New(client transport.Client, store Sink, cb *breaker.Breaker, lock Locker, cfg Config, opts ...Option) *Collector {
	c := &Collector{
		client:  client,
		store:   store,
		breaker: cb,
		lock:    lock,
		cfg:     cfg,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run dispatches to the collection cycle for role
func (c *Collector) Run(ctx context.Context, role sample.Role) Outcome {
	switch role {
	case sample.Repeater:
		return c.Repeater(ctx)
	case sample.Companion:
		return c.Companion(ctx)
	default:
		return Outcome{Role: role, Status: Failed, Err: fmt.Errorf("%w: %q", sample.ErrInvalidRole, role)}
	}
}

// RunAll runs one cycle per role concurrently. Roles share the transport
// lock, so cycles still reach the device one at a time.
func (c *Collector) RunAll(ctx context.Context, roles ...sample.Role) map[sample.Role]Outcome {
	var (
		mu  sync.Mutex
		out = make(map[sample.Role]Outcome, len(roles))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, role := range roles {
		role := role
		g.Go(func() error {
			o := c.Run(gctx, role)
			mu.Lock()
			out[role] = o
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Repeater collects status (and optionally telemetry) from the remote
// repeater. Only the status query feeds the circuit breaker, once per cycle.
func (c *Collector) Repeater(ctx context.Context) Outcome {
	out := Outcome{Role: sample.Repeater, Timestamp: c.now().Unix()}
	defer c.record(&out)

	if c.breaker.IsOpen() {
		out.Status = Skipped
		out.Cooldown = c.breaker.CooldownRemaining()
		c.logger.Warn("circuit open, cooldown remaining",
			zap.Int("cooldown_s", int(out.Cooldown.Seconds())))
		return out
	}

	release, err := c.lock.Acquire(ctx, c.cfg.LockTimeout)
	if err != nil {
		out.Status = Failed
		out.Err = fmt.Errorf("failed to acquire transport: %w", err)
		c.logger.Error("failed to acquire transport", zap.Error(err))
		return out
	}
	defer release()

	status := retry.Do(ctx, c.policy(string(transport.CmdRepeaterStatus), c.cfg.RemoteAttempts, c.cfg.RemoteBackoff),
		func(ctx context.Context) (transport.Response, error) {
			return c.run(ctx, transport.CmdRepeaterStatus)
		})
	c.recordAttempts(string(transport.CmdRepeaterStatus), status.Attempts)

	statusOK := status.OK && len(status.Value.Fields) > 0
	c.updateBreaker(statusOK)

	if !statusOK {
		out.Status = Failed
		out.Err = status.Error()
		if status.OK {
			out.Err = fmt.Errorf("%s: %w", transport.CmdRepeaterStatus, ErrNoData)
		}
		var exhausted *retry.ExhaustedError
		if errors.As(out.Err, &exhausted) {
			c.logger.Warn(fmt.Sprintf("remote collection failed %d/%d attempts", exhausted.Attempts, exhausted.Max),
				zap.String("operation", exhausted.Name), zap.Error(exhausted.Last))
		} else {
			c.logger.Warn("remote collection failed", zap.Error(out.Err))
		}
		return out
	}

	// Status is stored before telemetry is attempted
	fields := status.Value.Fields
	if err := c.insert(ctx, &out, fields); err != nil {
		out.Status = Failed
		out.Err = err
		c.logger.Error("failed to store status metrics", zap.Error(err))
		return out
	}
	out.Status = Collected

	var telem sample.Fields
	if c.cfg.TelemetryEnabled {
		telem = c.repeaterTelemetry(ctx, &out)
	}

	out.Summary = summarize(out.Timestamp, sample.Repeater, fields, len(telem))
	c.logger.Info("repeater collected",
		zap.String("summary", out.Summary),
		zap.Int("inserted", out.Inserted),
		zap.Int("duplicates", out.Duplicates))
	return out
}

// repeaterTelemetry never touches the breaker: a working status query proves
// the link is up, so telemetry failures are capability issues
func (c *Collector) repeaterTelemetry(ctx context.Context, out *Outcome) sample.Fields {
	res := retry.Do(ctx, c.policy(string(transport.CmdRepeaterTelemetry), c.cfg.TelemetryAttempts, c.cfg.TelemetryBackoff),
		func(ctx context.Context) (transport.Response, error) {
			return c.run(ctx, transport.CmdRepeaterTelemetry)
		})
	c.recordAttempts(string(transport.CmdRepeaterTelemetry), res.Attempts)

	if !res.OK {
		c.logger.Warn("telemetry collection failed", zap.Error(res.Error()))
		return nil
	}

	telem := res.Value.Telemetry
	if len(telem) == 0 {
		return nil
	}
	if err := c.insert(ctx, out, telem); err != nil {
		c.logger.Warn("failed to store telemetry metrics", zap.Error(err))
		return nil
	}
	out.Telemetry = len(telem)
	return telem
}

var companionCommands = []transport.Command{
	transport.CmdStatsCore,
	transport.CmdStatsRadio,
	transport.CmdStatsPackets,
	transport.CmdContacts,
}

// Companion collects from the locally attached node. Each command is tried
// once; the cycle succeeds if any command produced data that was stored.
func (c *Collector) Companion(ctx context.Context) Outcome {
	out := Outcome{Role: sample.Companion, Timestamp: c.now().Unix()}
	defer c.record(&out)

	release, err := c.lock.Acquire(ctx, c.cfg.LockTimeout)
	if err != nil {
		out.Status = Failed
		out.Err = fmt.Errorf("failed to acquire transport: %w", err)
		c.logger.Error("failed to acquire transport", zap.Error(err))
		return out
	}
	defer release()

	commands := companionCommands
	if c.cfg.TelemetryEnabled {
		commands = append(append([]transport.Command(nil), commands...), transport.CmdSelfTelemetry)
	}

	fields := sample.Fields{}
	succeeded := 0
	for _, cmd := range commands {
		if ctx.Err() != nil {
			break
		}
		resp, err := c.run(ctx, cmd)
		c.recordAttempts(string(cmd), 1)
		if err != nil {
			// Not every device has sensors attached
			if cmd == transport.CmdSelfTelemetry {
				c.logger.Debug("command failed", zap.String("command", string(cmd)), zap.Error(err))
			} else {
				c.logger.Error("command failed", zap.String("command", string(cmd)), zap.Error(err))
			}
			continue
		}
		succeeded++

		switch cmd {
		case transport.CmdContacts:
			fields["contacts"] = float64(resp.Contacts)
		case transport.CmdSelfTelemetry:
			fields.Merge(resp.Telemetry)
		default:
			fields.Merge(resp.Fields)
		}
	}

	telemCount := 0
	for name := range fields {
		if telemetry.IsTelemetry(name) {
			telemCount++
		}
	}
	out.Telemetry = telemCount
	out.Summary = summarize(out.Timestamp, sample.Companion, fields, telemCount)

	if succeeded == 0 || len(fields) == 0 {
		out.Status = Failed
		out.Err = ErrNoData
		if ctx.Err() != nil {
			out.Err = fmt.Errorf("%w: %w", ErrNoData, ctx.Err())
		}
		c.logger.Error("companion collection failed", zap.Error(out.Err))
		return out
	}

	if err := c.insert(ctx, &out, fields); err != nil {
		out.Status = Failed
		out.Err = err
		c.logger.Error("failed to store companion metrics", zap.Error(err))
		return out
	}

	out.Status = Collected
	c.logger.Info("companion collected",
		zap.String("summary", out.Summary),
		zap.Int("commands_ok", succeeded),
		zap.Int("inserted", out.Inserted))
	return out
}

func (c *Collector) run(ctx context.Context, cmd transport.Command) (transport.Response, error) {
	if c.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CommandTimeout)
		defer cancel()
	}
	return c.client.Run(ctx, cmd)
}

func (c *Collector) insert(ctx context.Context, out *Outcome, fields sample.Fields) error {
	n, err := c.store.InsertFields(ctx, out.Timestamp, out.Role, fields)
	if err != nil {
		return fmt.Errorf("failed to insert %s metrics: %w", out.Role, err)
	}
	out.Inserted += n
	out.Duplicates += len(fields) - n
	if c.metrics != nil {
		c.metrics.RecordInsert(string(out.Role), n, len(fields)-n)
	}
	return nil
}

func (c *Collector) policy(name string, attempts int, backoff time.Duration) retry.Policy {
	return retry.Policy{
		Attempts: attempts,
		Backoff:  backoff,
		Name:     name,
		Logger:   c.logger,
		Sleep:    c.sleep,
	}
}

func (c *Collector) updateBreaker(ok bool) {
	var err error
	if ok {
		err = c.breaker.RecordSuccess()
	} else {
		err = c.breaker.RecordFailure(c.cfg.BreakerFailures, c.cfg.BreakerCooldown)
	}
	if err != nil {
		// State stays correct in memory; only persistence failed
		c.logger.Warn("failed to persist circuit state", zap.Error(err))
	}

	state := c.breaker.State()
	c.logger.Debug("circuit breaker updated",
		zap.Bool("success", ok),
		zap.Int("consecutive_failures", state.ConsecutiveFailures),
		zap.Int("max_failures", c.cfg.BreakerFailures))
	if c.metrics != nil {
		c.metrics.SetBreaker(c.breaker.IsOpen(), state.ConsecutiveFailures)
	}
}

func (c *Collector) recordAttempts(op string, attempts int) {
	if c.metrics != nil {
		c.metrics.RecordAttempts(op, attempts)
	}
}

func (c *Collector) record(out *Outcome) {
	if c.metrics != nil {
		c.metrics.RecordCollection(string(out.Role), string(out.Status))
	}
}

// summarize renders the one-line cycle summary, e.g.
// "ts=1700000000, bat=3.85V, uptime=2d, rx=1200, tx=800, telem=3"
func summarize(ts int64, role sample.Role, fields sample.Fields, telem int) string {
	batName, uptimeName, rxName, txName := "bat", "uptime", "nb_recv", "nb_sent"
	if role == sample.Companion {
		batName, uptimeName, rxName, txName = "battery_mv", "uptime_secs", "recv", "sent"
	}

	parts := []string{fmt.Sprintf("ts=%d", ts)}
	if v, ok := fields[batName]; ok {
		parts = append(parts, fmt.Sprintf("bat=%.2fV", v/1000))
	}
	if v, ok := fields[uptimeName]; ok {
		parts = append(parts, fmt.Sprintf("uptime=%dd", int64(v)/86400))
	}
	if v, ok := fields["contacts"]; ok {
		parts = append(parts, fmt.Sprintf("contacts=%d", int64(v)))
	}
	if v, ok := fields[rxName]; ok {
		parts = append(parts, fmt.Sprintf("rx=%d", int64(v)))
	}
	if v, ok := fields[txName]; ok {
		parts = append(parts, fmt.Sprintf("tx=%d", int64(v)))
	}
	if telem > 0 {
		parts = append(parts, fmt.Sprintf("telem=%d", telem))
	}
	return strings.Join(parts, ", ")
}
