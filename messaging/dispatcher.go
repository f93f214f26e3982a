package messaging

import (
	"context"
	"log/slog"
	"sync"
)

// Dispatcher runs reply handlers on the context that owns them, e.g. the
// thread driving a user interface.
type Dispatcher interface {
	RunOnOwnerContext(fn func())
}

// DispatcherFunc is a function adapter for Dispatcher
type DispatcherFunc func(fn func())

// RunOnOwnerContext implements Dispatcher
func (f DispatcherFunc) RunOnOwnerContext(fn func()) {
	f(fn)
}

// DispatcherOption configures the dispatchers in this package
type DispatcherOption func(*dispatcherConfig)

type dispatcherConfig struct {
	logger *slog.Logger
}

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(c *dispatcherConfig) {
		c.logger = logger
	}
}

func newDispatcherConfig(options []DispatcherOption) dispatcherConfig {
	cfg := dispatcherConfig{logger: slog.Default()}
	for _, opt := range options {
		opt(&cfg)
	}
	return cfg
}

// InlineDispatcher runs handlers immediately on the calling goroutine.
type InlineDispatcher struct {
	logger *slog.Logger
}

// NewInlineDispatcher creates a new inline dispatcher
func NewInlineDispatcher(options ...DispatcherOption) *InlineDispatcher {
	cfg := newDispatcherConfig(options)
	return &InlineDispatcher{logger: cfg.logger}
}

// RunOnOwnerContext runs fn now, recovering any panic.
func (d *InlineDispatcher) RunOnOwnerContext(fn func()) {
	runRecovered(d.logger, fn)
}

// LoopDispatcher queues handlers for a single owner goroutine running Run.
// Handlers never run concurrently with each other and run in the order
// they were scheduled. Scheduling never blocks.
type LoopDispatcher struct {
	logger *slog.Logger

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
}

// NewLoopDispatcher creates a new loop dispatcher
func NewLoopDispatcher(options ...DispatcherOption) *LoopDispatcher {
	cfg := newDispatcherConfig(options)
	return &LoopDispatcher{
		logger: cfg.logger,
		wake:   make(chan struct{}, 1),
	}
}

// RunOnOwnerContext queues fn. Handlers scheduled after Run returned are
// dropped.
func (d *LoopDispatcher) RunOnOwnerContext(fn func()) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.logger.Warn("dispatcher stopped, dropping callback")
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run executes queued handlers on the calling goroutine until ctx is done.
// Handlers still queued at that point are run before Run returns.
func (d *LoopDispatcher) Run(ctx context.Context) error {
	for {
		for _, fn := range d.drain() {
			runRecovered(d.logger, fn)
		}

		select {
		case <-d.wake:
		case <-ctx.Done():
			d.mu.Lock()
			d.stopped = true
			d.mu.Unlock()
			for _, fn := range d.drain() {
				runRecovered(d.logger, fn)
			}
			return ctx.Err()
		}
	}
}

// Pending returns the number of queued handlers.
func (d *LoopDispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *LoopDispatcher) drain() []func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	fns := d.queue
	d.queue = nil
	return fns
}

func runRecovered(logger *slog.Logger, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in reply handler", "panic", r)
		}
	}()
	fn()
}
