package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ms-reservations/internal/domain"
	"ms-reservations/internal/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

type Options struct {
	Buffer          int
	Workers         int
	MaxElapsed      time.Duration
	InitialInterval time.Duration
}

type Stats struct {
	Queued    int64 `json:"queued"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// Dispatcher queues notifications in memory and delivers them from background
// workers with bounded exponential backoff. A full queue drops the notification.
type Dispatcher struct {
	transport Transport
	opts      Options
	logger    *logger.Logger
	queue     chan Notification
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool

	queued    int64
	delivered int64
	failed    int64
	dropped   int64

	// OnResult observes every final delivery outcome; used for metrics.
	OnResult func(kind Kind, err error)
}

func NewDispatcher(t Transport, opts Options, log *logger.Logger) *Dispatcher {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = 30 * time.Second
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 200 * time.Millisecond
	}
	return &Dispatcher{
		transport: t,
		opts:      opts,
		logger:    log,
		queue:     make(chan Notification, opts.Buffer),
	}
}

// Start launches the workers. They drain the queue after ctx is cancelled or Close is called.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.logger.Info("NOTIFY", fmt.Sprintf("Dispatcher started: transport=%s workers=%d buffer=%d", d.transport.Name(), d.opts.Workers, d.opts.Buffer))
}

func (d *Dispatcher) Send(_ context.Context, n Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		atomic.AddInt64(&d.dropped, 1)
		return fmt.Errorf("dispatcher closed: %w", domain.ErrNotifierFailure)
	}

	select {
	case d.queue <- n:
		atomic.AddInt64(&d.queued, 1)
		return nil
	default:
		atomic.AddInt64(&d.dropped, 1)
		d.logger.Warn("NOTIFY", fmt.Sprintf("Queue full, dropped %s for %s", n.Kind, n.Contact.Email))
		return fmt.Errorf("notification queue full: %w", domain.ErrNotifierFailure)
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case n, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, n)
		case <-ctx.Done():
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.MaxElapsed)
	defer cancel()
	for {
		select {
		case n, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, n)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.opts.InitialInterval
	bo.MaxElapsedTime = d.opts.MaxElapsed

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		return d.transport.Deliver(ctx, n)
	}, backoff.WithContext(bo, ctx))

	if err != nil {
		atomic.AddInt64(&d.failed, 1)
		d.logger.Error("NOTIFY", fmt.Sprintf("%s for reservation %s failed after %d attempts: %v", n.Kind, n.ReservationID, attempt, err))
	} else {
		atomic.AddInt64(&d.delivered, 1)
		d.logger.LogNotify(string(n.Kind), n.Contact.Email, fmt.Sprintf("delivered via %s", d.transport.Name()))
	}
	if d.OnResult != nil {
		d.OnResult(n.Kind, err)
	}
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Queued:    atomic.LoadInt64(&d.queued),
		Delivered: atomic.LoadInt64(&d.delivered),
		Failed:    atomic.LoadInt64(&d.failed),
		Dropped:   atomic.LoadInt64(&d.dropped),
	}
}

// Close stops accepting notifications, waits for queued ones and closes the transport.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	return d.transport.Close()
}
