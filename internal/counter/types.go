package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rrcounter/internal/delivery"
	"rrcounter/internal/eventbus"
	logx "rrcounter/pkg/logx"
)

var ErrAlreadyRunning = errors.New("counter already running")

// Event types published on the bus.
const (
	EventStarted  = "counter.started"
	EventStopped  = "counter.stopped"
	EventInterval = "counter.interval"
	EventFinished = "counter.finished"
)

// Limits bounds every chat's counter. All values are fixed per Service but may
// be swapped at runtime through ApplyLimits.
type Limits struct {
	DefaultInterval time.Duration
	MinInterval     time.Duration
	MaxInterval     time.Duration
	MaxCount        int
}

func (l Limits) Validate() error {
	if l.MaxCount < 1 {
		return fmt.Errorf("max_count must be >= 1 (got %d)", l.MaxCount)
	}
	if l.MinInterval <= 0 {
		return fmt.Errorf("min_interval must be > 0 (got %s)", l.MinInterval)
	}
	if l.MinInterval > l.MaxInterval {
		return fmt.Errorf("min_interval (%s) must be <= max_interval (%s)", l.MinInterval, l.MaxInterval)
	}
	if l.DefaultInterval < l.MinInterval || l.DefaultInterval > l.MaxInterval {
		return fmt.Errorf("default_interval (%s) must be within [%s, %s]", l.DefaultInterval, l.MinInterval, l.MaxInterval)
	}
	return nil
}

// ValidationError reports a rejected interval. The chat's previous interval is kept.
type ValidationError struct {
	Input  string
	Reason string
	Min    time.Duration
	Max    time.Duration
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid interval %q: %s (allowed %s..%s)", e.Input, e.Reason, e.Min, e.Max)
}

// Snapshot is a point-in-time copy of one chat's counter.
type Snapshot struct {
	ChatID       int64
	Running      bool
	Current      int
	Interval     time.Duration
	NextIdentity int
	NextSender   string
	Scheduled    bool
}

// Stats is a process-wide summary used by /status and periodic reports.
type Stats struct {
	Chats       int
	Running     int
	Started     uint64
	Ticks       uint64
	Completions uint64
	DispatchErr uint64
}

// Event is the payload of counter bus events.
type Event struct {
	ChatID   int64         `json:"chat_id"`
	Count    int           `json:"count,omitempty"`
	Interval time.Duration `json:"interval,omitempty"`
}

// Dispatcher hands a formatted tick to the delivery pipeline. It must not block
// on the network.
type Dispatcher interface {
	Dispatch(ctx context.Context, job delivery.Job) error
}

// Notifier announces a finished run through the controller bot.
type Notifier interface {
	NotifyCompletion(ctx context.Context, chatID int64, finalCount int) error
}

// Observer receives counter metrics. Implementations must be cheap and non-blocking.
type Observer interface {
	RunStarted()
	RunFinished()
	TickEmitted()
	SetRunning(n int)
}

// Formatter renders the text for count n.
type Formatter func(n int) string

type Deps struct {
	Dispatcher Dispatcher
	Notifier   Notifier
	Observer   Observer
	Format     Formatter
	Logger     logx.Logger
	Bus        eventbus.Bus
}
