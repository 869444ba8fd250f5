package events

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPublishReachesTypedAndAllSubscribers(t *testing.T) {
	bus := NewEventBus()

	typed := make(chan Event, 1)
	all := make(chan Event, 1)
	bus.Subscribe(EventScanCompleted, func(e Event) { typed <- e })
	bus.SubscribeAll(func(e Event) { all <- e })

	bus.Publish(Event{Type: EventScanCompleted, Data: map[string]interface{}{"symbols": 10}})

	select {
	case e := <-typed:
		if e.Timestamp.IsZero() {
			t.Error("publish should stamp the event time")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("typed subscriber never fired")
	}
	select {
	case e := <-all:
		if e.Type != EventScanCompleted {
			t.Errorf("all-subscriber got %s, want %s", e.Type, EventScanCompleted)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("all-subscriber never fired")
	}
}

func TestTypedSubscriberIgnoresOtherEvents(t *testing.T) {
	bus := NewEventBus()
	typed := make(chan Event, 1)
	bus.Subscribe(EventPositionOpened, func(e Event) { typed <- e })

	bus.Publish(Event{Type: EventPositionClosed})

	select {
	case <-typed:
		t.Fatal("subscriber fired for a different event type")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLogSinkWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewLogSink(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLogSink: %v", err)
	}

	sink.Handle(Event{
		Type:      EventSignalGenerated,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"symbol": "SOL/USDT", "score": 61.5},
	})
	sink.Handle(Event{
		Type:      EventPositionOpened,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"symbol": "SOL/USDT"},
	})
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Dropped, not an error: the sink is already closed.
	sink.Handle(Event{Type: EventError})

	f, err := os.Open(filepath.Join(dir, "events.jsonl"))
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var types []EventType
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line does not parse: %v", err)
		}
		types = append(types, e.Type)
	}
	if len(types) != 2 {
		t.Fatalf("got %d events, want 2", len(types))
	}
	if types[0] != EventSignalGenerated || types[1] != EventPositionOpened {
		t.Errorf("event order = %v", types)
	}
}

func TestLogSinkAppendsAcrossSessions(t *testing.T) {
	dir := t.TempDir()

	for i := 0; i < 2; i++ {
		sink, err := NewLogSink(dir, zerolog.Nop())
		if err != nil {
			t.Fatalf("NewLogSink: %v", err)
		}
		sink.Handle(Event{Type: EventEngineStarted, Timestamp: time.Now()})
		if err := sink.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "events.jsonl"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Errorf("got %d lines across two sessions, want 2", lines)
	}
}
