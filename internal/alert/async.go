package alert

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Async hands alerts to a background goroutine through a bounded queue. When
// the queue is full the alert is dropped and counted.
type Async struct {
	next   Notifier
	queue  chan string
	logger zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	done    chan struct{}
}

func NewAsync(next Notifier, size int, logger zerolog.Logger) *Async {
	if size <= 0 {
		size = 64
	}
	a := &Async{
		next:   next,
		queue:  make(chan string, size),
		logger: logger,
		done:   make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *Async) loop() {
	defer close(a.done)
	for msg := range a.queue {
		a.next.Notify(msg)
	}
}

func (a *Async) Notify(msg string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}

	select {
	case a.queue <- msg:
	default:
		total := a.dropped.Add(1)
		a.logger.Warn().Int64("dropped_total", total).Str("alert", msg).Msg("alert queue full; dropping alert")
	}
}

// Dropped returns how many alerts were discarded because the queue was full.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting alerts and waits for queued ones to be delivered.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	<-a.done
}
