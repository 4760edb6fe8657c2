// Package firehose implements the subscription multiplexer: a single live
// stream connection per subscription scope, fanned out to any number of
// independent subscribers, each with its own filter. The manager is an
// explicitly constructed, injectable object with process-wide lifetime;
// embedding applications create one and share it, rather than reaching for
// an ambient global.
package firehose

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"goa.design/firehose/event"
	"goa.design/firehose/telemetry"
	"goa.design/firehose/transport"
)

// Handler receives events that pass a subscriber's filter. Handlers run on
// the connection's read goroutine and must not block; the delivered event is
// shared across subscribers and must not be mutated.
type Handler func(ctx context.Context, e *event.Event)

type (
	// Option customizes a Manager.
	Option func(*Manager)

	// Stats is the manager snapshot exposed to diagnostics.
	Stats struct {
		// IsConnected reports whether the owned connection is open.
		IsConnected bool
		// SubscriptionCount is the number of live subscribers.
		SubscriptionCount int
		// EventsReceived counts raw frames since construction, across
		// reconnects and scope changes.
		EventsReceived int64
	}

	subscriber struct {
		filter  Filter
		handler Handler
	}

	// Manager owns the transport connection and the fan-out. All lifecycle
	// writes (open, close, scope change) go through the Manager; subscribers
	// only ever read.
	Manager struct {
		dialer  transport.Dialer
		codec   *event.Codec
		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer

		baseInterval time.Duration
		maxAttempts  int

		// scopeMu serializes scope changes end to end. The close-old/open-new
		// swap spans two mu critical sections; without this lock two racing
		// SetScope calls can both pass the key check and orphan a started
		// connection.
		scopeMu sync.Mutex

		mu     sync.RWMutex
		subs   map[string]*subscriber
		conn   *transport.Connection
		scope  transport.Scope
		opened bool
		closed bool

		eventsReceived atomic.Int64
		dropWarn       rate.Sometimes
	}
)

// WithLogger sets the structured logger.
func WithLogger(l telemetry.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(mt telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithTracer sets the tracer used around dials.
func WithTracer(t telemetry.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithReconnectPolicy tunes the owned connection's backoff: base is the
// exponential backoff base interval and maxAttempts bounds consecutive
// automatic attempts. Zero values keep the transport defaults.
func WithReconnectPolicy(base time.Duration, maxAttempts int) Option {
	return func(m *Manager) {
		m.baseInterval = base
		m.maxAttempts = maxAttempts
	}
}

// New constructs a Manager over the given transport dialer and subscription
// scope. The connection opens lazily on the first Subscribe.
func New(dialer transport.Dialer, scope transport.Scope, opts ...Option) (*Manager, error) {
	codec, err := event.NewCodec()
	if err != nil {
		return nil, err
	}
	m := &Manager{
		dialer:  dialer,
		codec:   codec,
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
		tracer:  telemetry.NewNoopTracer(),
		subs:    make(map[string]*subscriber),
		scope:   scope,
		// Malformed-frame warnings are throttled: one in every 100 after the
		// first few, so a poisoned stream cannot flood the log.
		dropWarn: rate.Sometimes{First: 5, Every: 100},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Subscribe registers a handler with a filter and returns the subscription
// id. The first subscription lazily opens the transport connection. The
// handler set is consulted at delivery time, so replacing a subscription
// (unsubscribe + subscribe) never races a stale handler.
func (m *Manager) Subscribe(ctx context.Context, filter Filter, handler Handler) string {
	id := uuid.NewString()
	m.mu.Lock()
	m.subs[id] = &subscriber{filter: filter, handler: handler}
	if !m.opened && !m.closed {
		m.opened = true
		m.conn = m.newConnection()
		m.conn.Start(context.WithoutCancel(ctx))
	}
	m.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription. Unknown ids are a no-op, and the
// connection is deliberately left open even when the subscriber count drops
// to zero: filter changes are modeled as unsubscribe+subscribe and must not
// thrash the connection.
func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	delete(m.subs, id)
	m.mu.Unlock()
}

// SetScope switches the server-side subscription scope. The previous
// connection is fully closed before the new one opens, so at most one
// connection exists per manager at any time. Concurrent calls serialize; a
// scope with an unchanged key is a no-op.
func (m *Manager) SetScope(ctx context.Context, scope transport.Scope) {
	m.scopeMu.Lock()
	defer m.scopeMu.Unlock()

	m.mu.Lock()
	if m.closed || scope.Key() == m.scope.Key() {
		m.mu.Unlock()
		return
	}
	old := m.conn
	m.conn = nil
	m.scope = scope
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}

	m.mu.Lock()
	if !m.closed && m.opened {
		m.conn = m.newConnection()
		m.conn.Start(context.WithoutCancel(ctx))
	}
	m.mu.Unlock()
}

// Reconnect resets the reconnect budget and dials again. It is the explicit
// user-triggered escape from the terminal disconnected state.
func (m *Manager) Reconnect(ctx context.Context) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn != nil {
		conn.Reconnect(context.WithoutCancel(ctx))
	}
}

// Close tears down the connection and drops all subscriptions. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.subs = make(map[string]*subscriber)
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Stats returns a snapshot of manager-level counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	connected := false
	if m.conn != nil {
		connected = m.conn.Status().Connected
	}
	return Stats{
		IsConnected:       connected,
		SubscriptionCount: len(m.subs),
		EventsReceived:    m.eventsReceived.Load(),
	}
}

// Status returns the owned connection's state snapshot. A manager whose
// connection has not opened yet reports StateIdle.
func (m *Manager) Status() transport.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return transport.Status{State: transport.StateIdle}
	}
	return m.conn.Status()
}

func (m *Manager) newConnection() *transport.Connection {
	return transport.NewConnection(transport.ConnectionOptions{
		Dialer:               m.dialer,
		Scope:                m.scope,
		OnFrame:              m.onFrame,
		BaseInterval:         m.baseInterval,
		MaxReconnectAttempts: m.maxAttempts,
		Logger:               m.logger,
		Metrics:              m.metrics,
		Tracer:               m.tracer,
	})
}

// onFrame validates and decodes a raw frame once, then fans the event out to
// every subscriber whose filter matches. Malformed frames are dropped with a
// throttled warning; the connection stays up.
func (m *Manager) onFrame(ctx context.Context, f transport.Frame) {
	m.eventsReceived.Add(1)

	ev, err := m.codec.Decode(f.Data)
	if err != nil {
		m.metrics.IncCounter(telemetry.MetricEventsDropped, 1, "reason", "malformed")
		m.dropWarn.Do(func() {
			m.logger.Warn(ctx, "malformed frame dropped", "error", err.Error())
		})
		return
	}

	m.mu.RLock()
	targets := make([]*subscriber, 0, len(m.subs))
	for _, sub := range m.subs {
		if sub.filter.Matches(ev) {
			targets = append(targets, sub)
		}
	}
	m.mu.RUnlock()

	for _, sub := range targets {
		sub.handler(ctx, ev)
	}
}
