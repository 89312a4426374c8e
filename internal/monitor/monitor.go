package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"spot-accumulator/internal/events"
)

// Monitor forwards operator notices and engine transitions to an AlertSink.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink
}

// Start subscribes and forwards until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		log.Println("[MONITOR] not fully configured; skipping")
		return
	}
	stream := m.Bus.SubscribeMany(ctx, []events.Event{events.EventNotice, events.EventEngineState}, 50)
	go func() {
		for env := range stream {
			if err := m.Sink.Send(formatAlert(env)); err != nil {
				log.Printf("[MONITOR] alert delivery failed: %v", err)
			}
		}
	}()
}

func formatAlert(env events.Envelope) string {
	ts := time.Now().Format(time.RFC3339)
	switch v := env.Data.(type) {
	case events.Notice:
		return fmt.Sprintf("[%s] %s: %s", ts, v.Pair, v.Message)
	case events.EngineState:
		state := "stopped"
		if v.Running {
			state = "running"
		}
		if v.Reason != "" {
			return fmt.Sprintf("[%s] %s: %s (%s)", ts, v.Pair, state, v.Reason)
		}
		return fmt.Sprintf("[%s] %s: %s", ts, v.Pair, state)
	case string:
		return "[" + ts + "] " + v
	default:
		return "[" + ts + "] " + string(env.Type)
	}
}
