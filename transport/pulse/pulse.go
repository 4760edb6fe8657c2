// Package pulse implements a firehose transport for clients co-located with
// the backend event bus: instead of dialing the SSE edge it reads the same
// JSON envelopes from a Pulse (Redis streams) consumer group. Ops tooling
// and server-side UIs use it to consume a deployment's firehose without an
// HTTP hop.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"goa.design/firehose/transport"
)

type (
	// DialerOptions configures a Dialer.
	DialerOptions struct {
		// Redis backs the Pulse streams. Required; the caller owns its
		// lifecycle.
		Redis *redis.Client
		// StreamName maps a subscription scope to the Pulse stream carrying
		// its envelopes. Defaults to "firehose:" + scope.Key().
		StreamName func(scope transport.Scope) string
		// SinkName identifies the consumer group. Defaults to "firehose".
		SinkName string
		// ReplayAll starts each sink at the oldest retained entry instead of
		// the stream tail. Replayed envelopes are deduplicated downstream by
		// composite key, so this is safe, just chattier.
		ReplayAll bool
	}

	// Dialer opens Pulse-backed connections.
	Dialer struct {
		redis      *redis.Client
		streamName func(scope transport.Scope) string
		sinkName   string
		replayAll  bool
	}

	conn struct {
		sink *streaming.Sink
		ch   <-chan *streaming.Event

		closeOnce sync.Once
	}
)

// NewDialer constructs a Pulse-backed Dialer. Returns an error if the Redis
// client is missing.
func NewDialer(opts DialerOptions) (*Dialer, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	name := opts.StreamName
	if name == nil {
		name = func(scope transport.Scope) string { return "firehose:" + scope.Key() }
	}
	sinkName := opts.SinkName
	if sinkName == "" {
		sinkName = "firehose"
	}
	return &Dialer{
		redis:      opts.Redis,
		streamName: name,
		sinkName:   sinkName,
		replayAll:  opts.ReplayAll,
	}, nil
}

// Dial opens a consumer group on the scope's stream. lastEventID is unused:
// consumer groups track delivery server-side and the composite-key dedup
// layer absorbs any replays.
func (d *Dialer) Dial(ctx context.Context, scope transport.Scope, _ string) (transport.Conn, error) {
	str, err := streaming.NewStream(d.streamName(scope), d.redis)
	if err != nil {
		return nil, fmt.Errorf("create pulse stream: %w", err)
	}
	var sinkOpts []streamopts.Sink
	if d.replayAll {
		sinkOpts = append(sinkOpts, streamopts.WithSinkStartAtOldest())
	}
	sink, err := str.NewSink(ctx, d.sinkName, sinkOpts...)
	if err != nil {
		return nil, fmt.Errorf("create pulse sink: %w", err)
	}
	return &conn{sink: sink, ch: sink.Subscribe()}, nil
}

// Recv returns the next envelope off the consumer group, acking it after
// delivery. A closed sink channel surfaces as io.EOF so the connection state
// machine treats it like any other lost connection.
func (c *conn) Recv(ctx context.Context) (transport.Frame, error) {
	select {
	case <-ctx.Done():
		return transport.Frame{}, ctx.Err()
	case evt, ok := <-c.ch:
		if !ok {
			return transport.Frame{}, io.EOF
		}
		if err := c.sink.Ack(ctx, evt); err != nil {
			return transport.Frame{}, fmt.Errorf("pulse ack: %w", err)
		}
		return transport.Frame{ID: evt.ID, Data: evt.Payload}, nil
	}
}

// Close stops the sink.
func (c *conn) Close() error {
	c.closeOnce.Do(func() { c.sink.Close(context.Background()) })
	return nil
}
