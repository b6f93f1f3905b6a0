// Package notify sends transactional e-mail without blocking request handlers.
//
// Messages go into a bounded queue drained by background workers. Each delivery
// is retried with exponential backoff under a per-attempt timeout; a message
// that still fails is logged and dropped.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("notify: queue closed")

// ErrQueueFull is returned when the queue has no free slot.
var ErrQueueFull = errors.New("notify: queue full")

// Message is one rendered e-mail.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
	// Kind names the template, for logs.
	Kind string
}

// Mailer delivers a single message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type Options struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 10 * time.Second
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	return o
}

// Dispatcher owns the queue and its workers.
type Dispatcher struct {
	mailer Mailer
	log    *slog.Logger
	opts   Options

	mu     sync.RWMutex
	closed bool
	queue  chan Message
	wg     sync.WaitGroup
	stop   context.CancelFunc
}

func NewDispatcher(mailer Mailer, log *slog.Logger, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	return &Dispatcher{
		mailer: mailer,
		log:    log,
		opts:   opts,
		queue:  make(chan Message, opts.QueueSize),
	}
}

// Start launches the workers. They run until Close.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.stop = context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
}

// Enqueue hands msg to the workers. It never blocks.
func (d *Dispatcher) Enqueue(msg Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.queue <- msg:
		return nil
	default:
		d.log.Warn("email queue full, dropping message", "kind", msg.Kind, "to", msg.To)
		return ErrQueueFull
	}
}

// Close stops accepting messages and waits for the queue to drain. When ctx
// expires first, in-flight deliveries are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if d.stop != nil {
			d.stop()
		}
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for msg := range d.queue {
		start := time.Now()
		err := retry(ctx, d.opts, func(ctx context.Context) error {
			return d.mailer.Send(ctx, msg)
		})
		if err != nil {
			d.log.Error("email delivery failed", "kind", msg.Kind, "to", msg.To, "error", err)
			continue
		}
		d.log.Info("email sent", "kind", msg.Kind, "to", msg.To, "duration", time.Since(start))
	}
}

// retry runs fn up to MaxAttempts times, each under AttemptTimeout, sleeping
// with exponential backoff between attempts.
func retry(ctx context.Context, opts Options, fn func(context.Context) error) error {
	var lastErr error
	delay := opts.InitialBackoff
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		attemptCtx, cancel := context.WithTimeout(ctx, opts.AttemptTimeout)
		lastErr = fn(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if attempt == opts.MaxAttempts {
			break
		}
		if attempt > 1 {
			delay = time.Duration(math.Min(float64(delay)*2, float64(opts.MaxBackoff)))
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("after %d attempts: %w", opts.MaxAttempts, lastErr)
}
