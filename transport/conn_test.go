package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	frames chan Frame
	errs   chan error
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan Frame, 8), errs: make(chan error, 1)}
}

func (c *fakeConn) Recv(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case err := <-c.errs:
		return Frame{}, err
	case f, ok := <-c.frames:
		if !ok {
			return Frame{}, io.EOF
		}
		return f, nil
	}
}

func (c *fakeConn) Close() error { return nil }

// fakeDialer fails the first failDials attempts, then hands out buffered
// connections. It records the resume id passed to every dial.
type fakeDialer struct {
	mu        sync.Mutex
	failDials int
	conns     []*fakeConn
	resumeIDs []string
}

func (d *fakeDialer) Dial(_ context.Context, _ Scope, lastEventID string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resumeIDs = append(d.resumeIDs, lastEventID)
	if d.failDials > 0 {
		d.failDials--
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.resumeIDs)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func waitForState(t *testing.T, c *Connection, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.Status().State == want
	}, 2*time.Second, 5*time.Millisecond, "waiting for state %s, have %s", want, c.Status().State)
}

func TestBackoffDoublesPerAttempt(t *testing.T) {
	require.Equal(t, time.Second, Backoff(time.Second, 1))
	require.Equal(t, 2*time.Second, Backoff(time.Second, 2))
	require.Equal(t, 4*time.Second, Backoff(time.Second, 3))
	require.Equal(t, 8*time.Second, Backoff(time.Second, 4))
	// Attempt numbers below 1 clamp to the base.
	require.Equal(t, time.Second, Backoff(time.Second, 0))
}

func TestConnectionDeliversFrames(t *testing.T) {
	dialer := &fakeDialer{}
	got := make(chan Frame, 8)
	c := NewConnection(ConnectionOptions{
		Dialer:  dialer,
		OnFrame: func(_ context.Context, f Frame) { got <- f },
	})
	defer c.Close()

	c.Start(context.Background())
	waitForState(t, c, StateOpen)

	dialer.conn(0).frames <- Frame{ID: "1", Data: []byte(`{"a":1}`)}
	dialer.conn(0).frames <- Frame{ID: "2", Data: []byte(`{"a":2}`)}

	f := <-got
	require.Equal(t, "1", f.ID)
	f = <-got
	require.Equal(t, "2", f.ID)

	require.Eventually(t, func() bool {
		return c.Status().LastEventID == "2"
	}, 2*time.Second, 5*time.Millisecond)
	require.True(t, c.Status().Connected)
}

func TestCloseSkipsRedial(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewConnection(ConnectionOptions{
		Dialer:       dialer,
		OnFrame:      func(context.Context, Frame) {},
		BaseInterval: time.Millisecond,
	})

	c.Start(context.Background())
	waitForState(t, c, StateOpen)

	c.Close()
	require.Equal(t, StateClosed, c.Status().State)
	require.False(t, c.Status().Connected)

	// Intentional close must not schedule another dial.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, dialer.dials())

	// Idempotent.
	c.Close()
	require.Equal(t, StateClosed, c.Status().State)
}

func TestReconnectsAfterConnectionLoss(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewConnection(ConnectionOptions{
		Dialer:       dialer,
		OnFrame:      func(context.Context, Frame) {},
		BaseInterval: time.Millisecond,
	})
	defer c.Close()

	c.Start(context.Background())
	waitForState(t, c, StateOpen)

	dialer.conn(0).errs <- errors.New("connection reset")

	require.Eventually(t, func() bool { return dialer.dials() >= 2 }, 2*time.Second, 5*time.Millisecond)
	waitForState(t, c, StateOpen)
	require.Equal(t, 0, c.Status().ReconnectAttempts, "attempt counter resets on successful open")
}

func TestBudgetExhaustionIsTerminalUntilReconnect(t *testing.T) {
	dialer := &fakeDialer{failDials: 100}
	c := NewConnection(ConnectionOptions{
		Dialer:               dialer,
		OnFrame:              func(context.Context, Frame) {},
		BaseInterval:         time.Millisecond,
		MaxReconnectAttempts: 2,
	})
	defer c.Close()

	c.Start(context.Background())
	waitForState(t, c, StateClosed)

	// Initial dial plus two budgeted retries.
	require.Equal(t, 3, dialer.dials())

	// No automatic attempts while parked.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 3, dialer.dials())

	// Manual reconnect resets the budget and dials again.
	dialer.mu.Lock()
	dialer.failDials = 0
	dialer.mu.Unlock()
	c.Reconnect(context.Background())
	waitForState(t, c, StateOpen)
	require.Equal(t, 0, c.Status().ReconnectAttempts)
}

func TestResumeSendsLastEventID(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewConnection(ConnectionOptions{
		Dialer:       dialer,
		OnFrame:      func(context.Context, Frame) {},
		BaseInterval: time.Millisecond,
	})
	defer c.Close()

	c.Start(context.Background())
	waitForState(t, c, StateOpen)

	dialer.conn(0).frames <- Frame{ID: "evt-42", Data: []byte(`{}`)}
	require.Eventually(t, func() bool {
		return c.Status().LastEventID == "evt-42"
	}, 2*time.Second, 5*time.Millisecond)

	dialer.conn(0).errs <- errors.New("connection reset")
	require.Eventually(t, func() bool { return dialer.dials() >= 2 }, 2*time.Second, 5*time.Millisecond)

	dialer.mu.Lock()
	resume := dialer.resumeIDs[1]
	dialer.mu.Unlock()
	require.Equal(t, "evt-42", resume)
	require.Empty(t, dialer.resumeIDs[0], "first dial carries no resume id")
}

func TestStateTransitionsObserved(t *testing.T) {
	dialer := &fakeDialer{}
	var mu sync.Mutex
	var states []State
	c := NewConnection(ConnectionOptions{
		Dialer:  dialer,
		OnFrame: func(context.Context, Frame) {},
		OnStateChange: func(s Status) {
			mu.Lock()
			states = append(states, s.State)
			mu.Unlock()
		},
	})

	c.Start(context.Background())
	waitForState(t, c, StateOpen)
	c.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []State{StateConnecting, StateOpen, StateClosed}, states)
}
