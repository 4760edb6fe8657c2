// Command firehose-tail connects to a collaboration deployment and prints
// the merged session timeline as it evolves, along with pending approvals
// and the connection state. It exists both as an ops tool and as a working
// example of wiring the sync engine.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"goa.design/clue/log"

	"goa.design/firehose/config"
	"goa.design/firehose/event"
	"goa.design/firehose/firehose"
	"goa.design/firehose/history"
	"goa.design/firehose/telemetry"
	"goa.design/firehose/transport"
	"goa.design/firehose/transport/sse"
	"goa.design/firehose/view"
)

func main() {
	var (
		configF  = flag.String("config", "firehose.yaml", "Path to the client configuration file")
		projectF = flag.String("project", "", "Project id to scope to")
		sessionF = flag.String("session", "", "Session id to follow (required)")
		threadF  = flag.String("thread", "", "Thread id for the filtered pane; empty shows the full session")
		dbgF     = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	if *sessionF == "" {
		log.Errorf(ctx, nil, "missing required -session flag")
		os.Exit(1)
	}

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Errorf(ctx, err, "load configuration")
		os.Exit(1)
	}

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewOTELMetrics()
	tracer := telemetry.NewOTELTracer()

	dialer := sse.NewDialer(cfg.StreamURL)
	mux, err := firehose.New(dialer, scopeFor(*projectF, *sessionF),
		firehose.WithLogger(logger),
		firehose.WithMetrics(metrics),
		firehose.WithTracer(tracer),
		firehose.WithReconnectPolicy(cfg.Reconnect.BaseInterval.Std(), cfg.Reconnect.MaxAttempts),
	)
	if err != nil {
		log.Errorf(ctx, err, "construct multiplexer")
		os.Exit(1)
	}
	defer mux.Close()

	histOpts := []history.ClientOption{
		history.WithMetrics(metrics),
		history.WithTracer(tracer),
	}
	if cfg.HistoryLimit > 0 {
		histOpts = append(histOpts, history.WithLimit(cfg.HistoryLimit))
	}
	api := history.NewClient(cfg.APIURL, histOpts...)

	v := view.New(mux, api,
		view.WithLogger(logger),
		view.WithMetrics(metrics),
		view.WithStreamingLimit(cfg.StreamingLimit),
	)
	defer v.Close()
	v.SetScope(ctx, view.Scope{ProjectID: *projectF, SessionID: *sessionF, ThreadID: *threadF})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	printed := 0
	for {
		select {
		case <-sig:
			log.Infof(ctx, "shutting down")
			return
		case <-ticker.C:
			printed = render(v, *threadF, printed)
		}
	}
}

func scopeFor(projectID, sessionID string) transport.Scope {
	s := transport.Scope{SessionIDs: []string{sessionID}, Global: true}
	if projectID != "" {
		s.ProjectIDs = []string{projectID}
	}
	return s
}

// render prints timeline entries past the high-water mark and the current
// ephemeral state; returns the new mark. Transient in-flight entries print
// every tick since their content grows.
func render(v *view.View, threadID string, mark int) int {
	var events []*event.Event
	if threadID != "" {
		events = v.EventsForThread(threadID)
	} else {
		events = v.AllEvents()
	}

	n := 0
	for _, e := range events {
		if e.Transient {
			fmt.Printf("%s  %-18s %s ...\n", e.Timestamp.Format(time.RFC3339), e.Type, preview(e))
			continue
		}
		if n++; n <= mark {
			continue
		}
		fmt.Printf("%s  %-18s %s\n", e.Timestamp.Format(time.RFC3339), e.Type, preview(e))
	}

	for _, p := range v.PendingApprovals() {
		fmt.Printf("  !! approval pending: %s wants %s (request %s)\n", p.AgentID, p.ToolName, p.RequestID)
	}
	if !v.Connected() {
		st := v.ConnectionStatus()
		fmt.Printf("  -- disconnected (attempt %d/%d)\n", st.ReconnectAttempts, st.MaxReconnectAttempts)
	}
	return n
}

func preview(e *event.Event) string {
	switch e.Type {
	case event.TypeUserMessage, event.TypeAgentMessage, event.TypeSystemMessage:
		if p, err := e.Message(); err == nil {
			return truncate(p.Content)
		}
	case event.TypeAgentStreaming:
		var p event.StreamingPayload
		if err := json.Unmarshal(e.Data, &p); err == nil {
			return truncate(p.Content)
		}
	case event.TypeToolAggregated:
		if p, err := e.AggregatedTool(); err == nil {
			status := "pending"
			if p.Result != nil {
				status = "done"
			}
			return fmt.Sprintf("%s [%s]", p.ToolName, status)
		}
	}
	return ""
}

func truncate(s string) string {
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}
