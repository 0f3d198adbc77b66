package alert

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultLoadingDelay is how long StartLoading waits before showing its
// sticky wait message.
const DefaultLoadingDelay = time.Second

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// LoadingDelay defers the wait message of StartLoading. Zero selects
	// DefaultLoadingDelay.
	LoadingDelay time.Duration
}

// Dispatcher asynchronously forwards messages to a sink. A nil Dispatcher
// accepts and discards every call.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	ch        chan Message
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once

	loadingMu sync.Mutex
	loading   *time.Timer
}

// NewDispatcher starts a dispatcher, or returns nil when cfg is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.LoadingDelay <= 0 {
		cfg.LoadingDelay = DefaultLoadingDelay
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan Message, cfg.BufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case msg := <-d.ch:
			d.sink.Deliver(context.Background(), msg)
		case <-d.done:
			for {
				select {
				case msg := <-d.ch:
					d.sink.Deliver(context.Background(), msg)
				default:
					return
				}
			}
		}
	}
}

// Send queues msg for delivery.
func (d *Dispatcher) Send(ctx context.Context, msg Message) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- msg:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- msg:
	case <-ctx.Done():
	case <-d.done:
	}
}

// StartLoading shows a sticky wait message unless stop is called within the
// loading delay. stop also clears sticky messages. Starting a new loading
// message cancels a pending one.
func (d *Dispatcher) StartLoading(summary, detail string) (stop func()) {
	if d == nil {
		return func() {}
	}
	if summary == "" {
		summary, detail = detail, ""
	}
	msg := Sticky(summary).WithDetail(detail).WithSeverity(SeverityWait)

	d.loadingMu.Lock()
	if d.loading != nil {
		d.loading.Stop()
	}
	timer := time.AfterFunc(d.cfg.LoadingDelay, func() {
		d.Send(context.Background(), msg)
	})
	d.loading = timer
	d.loadingMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			timer.Stop()
			d.Send(context.Background(), ClearSticky())
		})
	}
}

// Close stops accepting messages and waits until queued ones are delivered.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.loadingMu.Lock()
		if d.loading != nil {
			d.loading.Stop()
		}
		d.loadingMu.Unlock()

		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns how many messages were discarded because the buffer was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
