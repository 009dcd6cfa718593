// Package alert delivers operator notifications about recoverable pipeline
// failures. Notify never returns an error and never blocks the caller for
// long; delivery problems are logged and swallowed.
package alert

import (
	"sync"

	"github.com/rs/zerolog"
)

type Notifier interface {
	Notify(msg string)
}

// Log writes alerts to the structured log.
type Log struct {
	logger zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(msg string) {
	l.logger.Warn().Str("alert", msg).Msg("pipeline alert")
}

// Multi fans each alert out to every sink.
type Multi []Notifier

func (m Multi) Notify(msg string) {
	for _, n := range m {
		if n != nil {
			n.Notify(msg)
		}
	}
}

// Observe calls fn for every alert before passing it on.
func Observe(next Notifier, fn func(msg string)) Notifier {
	return observed{next: next, fn: fn}
}

type observed struct {
	next Notifier
	fn   func(string)
}

func (o observed) Notify(msg string) {
	if o.fn != nil {
		o.fn(msg)
	}
	if o.next != nil {
		o.next.Notify(msg)
	}
}

// Recorder keeps alerts in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *Recorder) Notify(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func truncate(msg string, limit int) string {
	runes := []rune(msg)
	if len(runes) <= limit {
		return msg
	}
	return string(runes[:limit-1]) + "…"
}
