package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventBatchStarted       EventType = "BATCH_STARTED"
	EventBatchCompleted     EventType = "BATCH_COMPLETED"
	EventTickerDayCompleted EventType = "TICKER_DAY_COMPLETED"
	EventTickerDayFailed    EventType = "TICKER_DAY_FAILED"
	EventTradeClosed        EventType = "TRADE_CLOSED"
	EventZonesComputed      EventType = "ZONES_COMPUTED"
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

// Publish sends an event to all subscribers. Each subscriber runs in its own goroutine.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishTickerDayCompleted publishes a finished ticker-day
func (eb *EventBus) PublishTickerDayCompleted(ticker string, date time.Time, zones, trades int, totalR float64) {
	eb.Publish(Event{
		Type: EventTickerDayCompleted,
		Data: map[string]interface{}{
			"ticker":  ticker,
			"date":    date.Format("2006-01-02"),
			"zones":   zones,
			"trades":  trades,
			"total_r": totalR,
		},
	})
}

// PublishTickerDayFailed publishes a ticker-day that returned an error
func (eb *EventBus) PublishTickerDayFailed(ticker string, date time.Time, err error) {
	data := map[string]interface{}{
		"ticker": ticker,
		"date":   date.Format("2006-01-02"),
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventTickerDayFailed, Data: data})
}

// PublishTradeClosed publishes a completed trade
func (eb *EventBus) PublishTradeClosed(tradeID, ticker, direction, reason string, entryPrice, exitPrice, pnlR float64) {
	eb.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"trade_id":    tradeID,
			"ticker":      ticker,
			"direction":   direction,
			"reason":      reason,
			"entry_price": entryPrice,
			"exit_price":  exitPrice,
			"pnl_r":       pnlR,
		},
	})
}

// PublishBatch publishes batch start or completion
func (eb *EventBus) PublishBatch(eventType EventType, runID string, jobs, failed int) {
	eb.Publish(Event{
		Type: eventType,
		Data: map[string]interface{}{
			"run_id": runID,
			"jobs":   jobs,
			"failed": failed,
		},
	})
}

// PublishZonesComputed publishes the zone set chosen for a ticker-day
func (eb *EventBus) PublishZonesComputed(ticker string, date time.Time, zones int, cached bool) {
	eb.Publish(Event{
		Type: EventZonesComputed,
		Data: map[string]interface{}{
			"ticker": ticker,
			"date":   date.Format("2006-01-02"),
			"zones":  zones,
			"cached": cached,
		},
	})
}
