// Package telemetry delivers swipe events to the recorder on detached
// workers. Delivery is best-effort: failures go to an ErrorSink and are
// never retried or returned to the caller.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/kalambet/roamr/internal/swipe"
)

var (
	// ErrQueueFull is reported when an event is dropped because the queue is full.
	ErrQueueFull = errors.New("telemetry queue full")
	// ErrClosed is reported for events dispatched after Close.
	ErrClosed = errors.New("telemetry dispatcher closed")
)

// Sender delivers one event to the recorder.
type Sender interface {
	RecordSwipe(ctx context.Context, ev swipe.Event) error
}

// ErrorSink receives every delivery failure.
type ErrorSink interface {
	Report(ev swipe.Event, err error)
}

// LogSink reports failures to a structured logger at warn level.
type LogSink struct {
	Logger *slog.Logger
}

// Report implements ErrorSink.
func (s LogSink) Report(ev swipe.Event, err error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("swipe event dropped",
		"destination_id", ev.DestinationID, "action", ev.Action, "error", err)
}

// Options configures a Dispatcher. Zero values select defaults.
type Options struct {
	QueueSize int
	Workers   int
	Sink      ErrorSink
	// FailureThreshold is the number of consecutive send failures that opens the breaker.
	FailureThreshold uint32
	// CooldownPeriod is how long the breaker stays open before probing again.
	CooldownPeriod time.Duration
}

func (o *Options) applyDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.Sink == nil {
		o.Sink = LogSink{}
	}
	if o.FailureThreshold == 0 {
		o.FailureThreshold = 5
	}
	if o.CooldownPeriod <= 0 {
		o.CooldownPeriod = 30 * time.Second
	}
}

// Dispatcher is a bounded queue drained by a fixed worker pool.
type Dispatcher struct {
	sender Sender
	sink   ErrorSink
	cb     *gobreaker.CircuitBreaker[struct{}]
	logger *slog.Logger

	queue  chan swipe.Event
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// New starts a Dispatcher delivering through sender.
func New(sender Sender, opts Options) *Dispatcher {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sender: sender,
		sink:   opts.Sink,
		logger: slog.Default(),
		queue:  make(chan swipe.Event, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	d.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "swipe-recorder",
		MaxRequests: 1,
		Timeout:     opts.CooldownPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Info("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Dispatch enqueues ev without blocking. When the queue is full or the
// dispatcher is closed the event is dropped and reported to the sink.
func (d *Dispatcher) Dispatch(ev swipe.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.sink.Report(ev, ErrClosed)
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.sink.Report(ev, ErrQueueFull)
	}
}

// State returns the breaker state, e.g. "closed" or "open".
func (d *Dispatcher) State() string {
	return d.cb.State().String()
}

// Close stops intake and waits for queued events to be delivered. If ctx
// ends first, in-flight sends are cancelled and ctx.Err() is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for ev := range d.queue {
		if d.ctx.Err() != nil {
			d.sink.Report(ev, d.ctx.Err())
			continue
		}
		_, err := d.cb.Execute(func() (struct{}, error) {
			return struct{}{}, d.sender.RecordSwipe(d.ctx, ev)
		})
		if err != nil {
			d.sink.Report(ev, err)
		}
	}
}
