// Package messaging implements the in-process event bus and the relay that
// mirrors domain events onto Redis pub/sub channels.
package messaging

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/shared"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/logger"
)

var (
	ErrEventBusClosed = errors.New("event bus is closed")
	ErrHandlerPanic   = errors.New("handler panicked")
	ErrNilHandler     = errors.New("handler cannot be nil")
	ErrNilEvent       = errors.New("event cannot be nil")
)

var _ shared.EventBus = (*InMemoryEventBus)(nil)

// InMemoryEventBusConfig configures the bus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on goroutines bounded by WorkerPoolSize
	// (default 10). Otherwise Publish returns after every handler ran.
	AsyncMode      bool
	WorkerPoolSize int

	Logger        *logger.Logger
	EnableMetrics bool
}

// DefaultInMemoryEventBusConfig is asynchronous with ten workers.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 10, EnableMetrics: true}
}

// InMemoryEventBus dispatches events to handlers registered in this
// process. Handler errors and panics are logged and never reach the
// publisher.
type InMemoryEventBus struct {
	async bool
	slots chan struct{}
	log   *logger.Logger
	stats *EventBusMetrics

	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	wildcard []shared.EventHandler
	closed   bool
	done     chan struct{}
	inflight sync.WaitGroup
}

// NewInMemoryEventBus creates an open bus.
func NewInMemoryEventBus(cfg InMemoryEventBusConfig) *InMemoryEventBus {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 10
	}
	b := &InMemoryEventBus{
		async:  cfg.AsyncMode,
		slots:  make(chan struct{}, cfg.WorkerPoolSize),
		log:    cfg.Logger.With(logger.Component("event_bus")),
		byType: make(map[shared.EventType][]shared.EventHandler),
		done:   make(chan struct{}),
	}
	if cfg.EnableMetrics {
		b.stats = NewEventBusMetrics()
	}
	return b
}

// Subscribe adds a handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.add(handler, func() {
		b.byType[eventType] = append(b.byType[eventType], handler)
		b.log.Debug("subscribed handler", logger.EventType(string(eventType)))
	})
}

// SubscribeAll adds a handler that receives every event after the typed
// handlers.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.add(handler, func() {
		b.wildcard = append(b.wildcard, handler)
		b.log.Debug("subscribed global handler")
	})
}

func (b *InMemoryEventBus) add(handler shared.EventHandler, register func()) error {
	if handler == nil {
		return ErrNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	register()
	return nil
}

// Publish delivers event to its typed handlers, then to the global ones.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}
	et := event.EventType()

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	targets := append(append([]shared.EventHandler(nil), b.byType[et]...), b.wildcard...)
	// Counted under the read lock so Close cannot start waiting first.
	if b.async {
		b.inflight.Add(len(targets))
	}
	b.mu.RUnlock()

	if b.stats != nil {
		b.stats.RecordPublish(et)
	}
	if len(targets) == 0 {
		b.log.Debug("no handlers for event", logger.EventType(string(et)))
		return nil
	}

	for _, h := range targets {
		if b.async {
			go b.dispatchAsync(event, h)
		} else {
			b.report("handler error", event, b.execute(event, h))
		}
	}
	return nil
}

// dispatchAsync waits for a worker slot, or gives up when the bus closes.
func (b *InMemoryEventBus) dispatchAsync(event shared.Event, h shared.EventHandler) {
	defer b.inflight.Done()

	select {
	case b.slots <- struct{}{}:
	case <-b.done:
		b.log.Warn("event dropped on close", logger.EventType(string(event.EventType())))
		return
	}
	defer func() { <-b.slots }()

	b.report("async handler error", event, b.execute(event, h))
}

func (b *InMemoryEventBus) report(msg string, event shared.Event, err error) {
	if err == nil {
		return
	}
	b.log.Error(msg,
		logger.EventType(string(event.EventType())),
		logger.UserID(event.AggregateID()),
		logger.Err(err),
	)
}

// execute runs h, converting a panic into ErrHandlerPanic.
func (b *InMemoryEventBus) execute(event shared.Event, h shared.EventHandler) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
		if b.stats != nil {
			b.stats.RecordHandlerExecution(time.Since(start), err == nil)
		}
	}()
	return h(event)
}

// Close rejects further calls and waits for handlers already running.
// Async deliveries still waiting for a slot are dropped. Calling Close
// again is a no-op.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.inflight.Wait()
	b.log.Info("event bus closed")
	return nil
}

// Metrics returns the bus counters, or nil when disabled.
func (b *InMemoryEventBus) Metrics() *EventBusMetrics {
	return b.stats
}

// EventBusMetrics counts publishes and handler runs.
type EventBusMetrics struct {
	mu        sync.Mutex
	published map[shared.EventType]int64
	runs      int64
	failures  int64
	busy      time.Duration
}

// EventBusMetricsSnapshot is a copy of the counters.
type EventBusMetricsSnapshot struct {
	Published              map[shared.EventType]int64
	HandlerExecutions      int64
	HandlerFailures        int64
	AverageHandlerDuration time.Duration
}

func NewEventBusMetrics() *EventBusMetrics {
	return &EventBusMetrics{published: make(map[shared.EventType]int64)}
}

func (m *EventBusMetrics) RecordPublish(et shared.EventType) {
	m.mu.Lock()
	m.published[et]++
	m.mu.Unlock()
}

func (m *EventBusMetrics) RecordHandlerExecution(took time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
	m.busy += took
	if !ok {
		m.failures++
	}
}

// Snapshot copies the counters.
func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := EventBusMetricsSnapshot{
		Published:         make(map[shared.EventType]int64, len(m.published)),
		HandlerExecutions: m.runs,
		HandlerFailures:   m.failures,
	}
	for et, n := range m.published {
		snap.Published[et] = n
	}
	if m.runs > 0 {
		snap.AverageHandlerDuration = m.busy / time.Duration(m.runs)
	}
	return snap
}
