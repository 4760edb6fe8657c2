package transport

import (
	"context"
	"sync"
	"time"

	"goa.design/firehose/telemetry"
)

// State names a position in the connection lifecycle state machine.
type State string

const (
	// StateIdle means Start has not been called yet.
	StateIdle State = "idle"
	// StateConnecting means the first dial for this lifecycle is in flight.
	StateConnecting State = "connecting"
	// StateOpen means frames are flowing.
	StateOpen State = "open"
	// StateReconnecting means an unexpected disconnect occurred and a
	// backoff timer or redial is in flight.
	StateReconnecting State = "reconnecting"
	// StateClosed is terminal: either the caller closed the connection or
	// the reconnect budget is exhausted. Only Reconnect leaves this state.
	StateClosed State = "closed"
)

// Defaults for the reconnect policy.
const (
	DefaultBaseInterval         = time.Second
	DefaultMaxReconnectAttempts = 5
)

type (
	// Status is a snapshot of the connection state exposed to consumers.
	Status struct {
		// State is the current lifecycle state.
		State State
		// Connected is true iff State is StateOpen.
		Connected bool
		// ReconnectAttempts counts consecutive failed attempts since the
		// last successful open.
		ReconnectAttempts int
		// MaxReconnectAttempts is the configured attempt budget.
		MaxReconnectAttempts int
		// LastEventID is the id of the last frame delivered, used for resume.
		LastEventID string
	}

	// ConnectionOptions configures a Connection.
	ConnectionOptions struct {
		// Dialer opens the underlying connections. Required.
		Dialer Dialer
		// Scope is the server-side subscription filter. Fixed for the
		// connection's lifetime; a scope change means a new Connection.
		Scope Scope
		// OnFrame receives every frame delivered while open. Required.
		OnFrame func(ctx context.Context, f Frame)
		// OnStateChange observes lifecycle transitions. Optional.
		OnStateChange func(Status)
		// BaseInterval is the backoff base. The wait before attempt k is
		// BaseInterval * 2^(k-1). Defaults to DefaultBaseInterval.
		BaseInterval time.Duration
		// MaxReconnectAttempts bounds consecutive automatic attempts.
		// Exceeding it parks the connection in StateClosed until Reconnect.
		// Defaults to DefaultMaxReconnectAttempts.
		MaxReconnectAttempts int
		// Logger, Metrics and Tracer default to no-ops.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
	}

	// Connection owns exactly one live connection for its scope and absorbs
	// all reconnect handling: exponential backoff on unexpected closure, an
	// intentional-close flag so caller-initiated shutdown never schedules a
	// redial, and attempt-counter reset on every successful open.
	Connection struct {
		dialer       Dialer
		scope        Scope
		onFrame      func(ctx context.Context, f Frame)
		onState      func(Status)
		baseInterval time.Duration
		maxAttempts  int
		logger       telemetry.Logger
		metrics      telemetry.Metrics
		tracer       telemetry.Tracer

		mu          sync.Mutex
		state       State
		attempts    int
		lastEventID string
		closing     bool
		running     bool
		cancel      context.CancelFunc
		done        chan struct{}
	}
)

// NewConnection constructs an idle connection. Start opens it.
func NewConnection(opts ConnectionOptions) *Connection {
	if opts.BaseInterval <= 0 {
		opts.BaseInterval = DefaultBaseInterval
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.NewNoopTracer()
	}
	return &Connection{
		dialer:       opts.Dialer,
		scope:        opts.Scope,
		onFrame:      opts.OnFrame,
		onState:      opts.OnStateChange,
		baseInterval: opts.BaseInterval,
		maxAttempts:  opts.MaxReconnectAttempts,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		tracer:       opts.Tracer,
		state:        StateIdle,
	}
}

// Scope returns the subscription scope the connection is keyed by.
func (c *Connection) Scope() Scope { return c.scope }

// Start opens the connection and begins delivering frames. Calling Start on
// a running or closed connection is a no-op; use Reconnect to leave
// StateClosed.
func (c *Connection) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running || c.state == StateClosed {
		return
	}
	c.closing = false
	c.launch(ctx, StateConnecting)
}

// Reconnect resets the attempt counter and dials again. It is the only way
// out of the terminal disconnected state reached when the backoff budget is
// exhausted. Safe to call at any time; a no-op while already open.
func (c *Connection) Reconnect(ctx context.Context) {
	c.mu.Lock()
	if c.running && c.state == StateOpen {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	// Stop any in-flight dial or backoff timer before restarting.
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	c.mu.Lock()
	c.attempts = 0
	c.closing = false
	c.launch(ctx, StateConnecting)
	c.mu.Unlock()
}

// Close tears the connection down. The closing flag is set before the
// underlying socket is canceled so the read-loop error path can tell an
// intentional close from a lost connection and skip the redial. Idempotent,
// and always cancels any pending backoff timer.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.state == StateClosed && !c.running {
		c.mu.Unlock()
		return
	}
	c.closing = true
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	c.mu.Lock()
	c.setStateLocked(StateClosed)
	c.mu.Unlock()
}

// Status returns a snapshot of the connection state.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Connection) statusLocked() Status {
	return Status{
		State:                c.state,
		Connected:            c.state == StateOpen,
		ReconnectAttempts:    c.attempts,
		MaxReconnectAttempts: c.maxAttempts,
		LastEventID:          c.lastEventID,
	}
}

// launch starts the run loop. Caller holds c.mu.
func (c *Connection) launch(ctx context.Context, initial State) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	c.setStateLocked(initial)
	go c.run(runCtx, c.done)
}

// run dials, pumps frames, and applies the backoff policy until the context
// is canceled, the caller closes, or the attempt budget is exhausted.
func (c *Connection) run(ctx context.Context, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		close(done)
	}()

	for {
		c.mu.Lock()
		lastEventID := c.lastEventID
		c.mu.Unlock()

		dialCtx, span := c.tracer.Start(ctx, "firehose.dial")
		conn, err := c.dialer.Dial(dialCtx, c.scope, lastEventID)
		if err != nil {
			span.RecordError(err)
			span.End()
			if c.intentional(ctx) {
				return
			}
			c.logger.Warn(ctx, "stream dial failed", "scope", c.scope.Key(), "error", err.Error())
			if !c.backoff(ctx) {
				return
			}
			continue
		}
		span.End()

		c.mu.Lock()
		c.attempts = 0
		c.setStateLocked(StateOpen)
		c.mu.Unlock()
		c.logger.Info(ctx, "stream connected", "scope", c.scope.Key())

		err = c.pump(ctx, conn)
		_ = conn.Close()
		if c.intentional(ctx) {
			return
		}
		c.logger.Warn(ctx, "stream connection lost", "scope", c.scope.Key(), "error", errString(err))
		if !c.backoff(ctx) {
			return
		}
	}
}

// pump delivers frames until the connection errors or ctx is canceled.
func (c *Connection) pump(ctx context.Context, conn Conn) error {
	for {
		frame, err := conn.Recv(ctx)
		if err != nil {
			return err
		}
		c.mu.Lock()
		if frame.ID != "" {
			c.lastEventID = frame.ID
		}
		c.mu.Unlock()
		c.metrics.IncCounter(telemetry.MetricEventsReceived, 1)
		c.onFrame(ctx, frame)
	}
}

// backoff sleeps baseInterval * 2^(attempt-1) before the next attempt.
// Returns false when the attempt budget is exhausted or ctx is canceled, in
// which case the connection parks in StateClosed awaiting Reconnect.
func (c *Connection) backoff(ctx context.Context) bool {
	c.mu.Lock()
	c.attempts++
	attempt := c.attempts
	if attempt > c.maxAttempts {
		c.setStateLocked(StateClosed)
		c.mu.Unlock()
		c.logger.Error(ctx, "reconnect budget exhausted", "scope", c.scope.Key(), "attempts", attempt-1)
		return false
	}
	c.setStateLocked(StateReconnecting)
	c.mu.Unlock()

	c.metrics.IncCounter(telemetry.MetricReconnects, 1)
	wait := Backoff(c.baseInterval, attempt)
	c.logger.Debug(ctx, "scheduling reconnect", "attempt", attempt, "wait", wait.String())

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// intentional reports whether the current teardown was caller-initiated.
func (c *Connection) intentional(ctx context.Context) bool {
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	return closing || ctx.Err() != nil
}

func (c *Connection) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.onState != nil {
		c.onState(c.statusLocked())
	}
}

// Backoff returns the wait before the given 1-based attempt number:
// base * 2^(attempt-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << uint(attempt-1)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
