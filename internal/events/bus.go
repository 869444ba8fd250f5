package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventScanStarted      EventType = "SCAN_STARTED"
	EventScanCompleted    EventType = "SCAN_COMPLETED"
	EventSignalGenerated  EventType = "SIGNAL_GENERATED"
	EventPositionOpened   EventType = "POSITION_OPENED"
	EventPositionUpdated  EventType = "POSITION_UPDATED"
	EventPositionClosed   EventType = "POSITION_CLOSED"
	EventOrderExecuted    EventType = "ORDER_EXECUTED"
	EventStopMoved        EventType = "STOP_MOVED"
	EventTakeProfit       EventType = "TAKE_PROFIT"
	EventMarketState      EventType = "MARKET_STATE"
	EventSectorsUpdated   EventType = "SECTORS_UPDATED"
	EventBlacklistUpdated EventType = "BLACKLIST_UPDATED"
	EventCircuitTripped   EventType = "CIRCUIT_TRIPPED"
	EventCircuitReset     EventType = "CIRCUIT_RESET"
	EventEngineStarted    EventType = "ENGINE_STARTED"
	EventEngineStopped    EventType = "ENGINE_STOPPED"
	EventError            EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	// Notify all-event subscribers
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishSignal publishes a signal generated event
func (eb *EventBus) PublishSignal(symbol string, momentum, score, entryPrice float64) {
	eb.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"momentum":    momentum,
			"score":       score,
			"entry_price": entryPrice,
		},
	})
}

// PublishPositionOpened publishes a position opened event
func (eb *EventBus) PublishPositionOpened(symbol string, entryPrice, size, stopLoss, targetProfit float64) {
	eb.Publish(Event{
		Type: EventPositionOpened,
		Data: map[string]interface{}{
			"symbol":        symbol,
			"entry_price":   entryPrice,
			"size":          size,
			"stop_loss":     stopLoss,
			"target_profit": targetProfit,
		},
	})
}

// PublishPositionClosed publishes a position closed event
func (eb *EventBus) PublishPositionClosed(symbol, reason string, entryPrice, exitPrice, size, profitPct float64) {
	eb.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"reason":      reason,
			"entry_price": entryPrice,
			"exit_price":  exitPrice,
			"size":        size,
			"profit_pct":  profitPct,
		},
	})
}

// PublishOrderExecuted publishes an order executed event
func (eb *EventBus) PublishOrderExecuted(orderID, symbol, side, stage string, price, size float64) {
	eb.Publish(Event{
		Type: EventOrderExecuted,
		Data: map[string]interface{}{
			"order_id": orderID,
			"symbol":   symbol,
			"side":     side,
			"stage":    stage,
			"price":    price,
			"size":     size,
		},
	})
}

// PublishStopMoved publishes a trailing stop update event
func (eb *EventBus) PublishStopMoved(symbol string, oldStop, newStop float64) {
	eb.Publish(Event{
		Type: EventStopMoved,
		Data: map[string]interface{}{
			"symbol":   symbol,
			"old_stop": oldStop,
			"new_stop": newStop,
		},
	})
}

// PublishMarketState publishes a market state assessment event
func (eb *EventBus) PublishMarketState(state string) {
	eb.Publish(Event{
		Type: EventMarketState,
		Data: map[string]interface{}{
			"state": state,
		},
	})
}

// PublishBlacklistUpdated publishes a blacklist rebuild event
func (eb *EventBus) PublishBlacklistUpdated(count int) {
	eb.Publish(Event{
		Type: EventBlacklistUpdated,
		Data: map[string]interface{}{
			"count": count,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
