// Package shutdown turns SIGINT/SIGTERM into context cancellation and runs
// cleanup callbacks once the exploration has returned.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/PentesterFlow/OpenExplorer/internal/logger"
)

// Handler manages graceful shutdown.
type Handler struct {
	mu sync.Mutex

	callbacks     []ShutdownCallback
	callbackNames []string

	interrupted    atomic.Bool
	isShuttingDown atomic.Bool
	done           chan struct{}
	timeout        time.Duration

	// ctx is cancelled on the first signal
	ctx    context.Context
	cancel context.CancelFunc

	sigChan  chan os.Signal
	stopOnce sync.Once
	stopped  chan struct{}

	logger  *logger.Logger
	onForce func()
}

// ShutdownCallback is a function called during shutdown.
type ShutdownCallback func(ctx context.Context) error

// Config holds shutdown configuration.
type Config struct {
	Timeout time.Duration
	Signals []os.Signal
	Logger  *logger.Logger
	// OnForce runs on the second signal. The CLI exits from it.
	OnForce func()
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 15 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// New creates a handler and starts receiving signals. Call Listen to act
// on them and Stop to release them.
func New(cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := &Handler{
		done:    make(chan struct{}),
		timeout: cfg.Timeout,
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 2),
		stopped: make(chan struct{}),
		logger:  cfg.Logger.WithComponent("shutdown"),
		onForce: cfg.OnForce,
	}

	signal.Notify(h.sigChan, cfg.Signals...)

	return h
}

// NewDefault creates a handler with default configuration.
func NewDefault() *Handler {
	return New(DefaultConfig())
}

// Register registers a shutdown callback with a name. Callbacks run in
// reverse registration order.
func (h *Handler) Register(name string, callback ShutdownCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.callbacks = append(h.callbacks, callback)
	h.callbackNames = append(h.callbackNames, name)
}

// RegisterFunc registers a simple cleanup function.
func (h *Handler) RegisterFunc(name string, fn func()) {
	h.Register(name, func(ctx context.Context) error {
		fn()
		return nil
	})
}

// Context is cancelled when the first signal arrives.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Interrupted reports whether a signal has been received.
func (h *Handler) Interrupted() bool {
	return h.interrupted.Load()
}

// IsShuttingDown returns whether Shutdown has started.
func (h *Handler) IsShuttingDown() bool {
	return h.isShuttingDown.Load()
}

// Done returns a channel that is closed when Shutdown completes.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Listen handles signals in the background until Stop.
func (h *Handler) Listen() {
	go func() {
		for {
			select {
			case sig := <-h.sigChan:
				h.handle(sig)
			case <-h.stopped:
				return
			}
		}
	}()
}

func (h *Handler) handle(sig os.Signal) {
	if h.interrupted.CompareAndSwap(false, true) {
		h.logger.WithField("signal", sig.String()).
			Warn("Interrupt received, finishing the current step (repeat to force quit)")
		h.cancel()
		return
	}
	h.logger.Warn("Second interrupt, forcing exit")
	if h.onForce != nil {
		h.onForce()
	}
}

// Trigger simulates a signal (for testing or programmatic interruption).
func (h *Handler) Trigger() {
	select {
	case h.sigChan <- syscall.SIGTERM:
	default:
	}
}

// Stop releases the signal subscription.
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		signal.Stop(h.sigChan)
		close(h.stopped)
	})
}

// Shutdown cancels the context and runs the callbacks, each bounded by the
// handler timeout. It returns the callback errors and is idempotent.
func (h *Handler) Shutdown() []error {
	if !h.isShuttingDown.CompareAndSwap(false, true) {
		<-h.done
		return nil
	}
	defer close(h.done)

	start := time.Now()
	h.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), h.timeout)
	defer shutdownCancel()

	h.mu.Lock()
	callbacks := make([]ShutdownCallback, len(h.callbacks))
	names := make([]string, len(h.callbackNames))
	copy(callbacks, h.callbacks)
	copy(names, h.callbackNames)
	h.mu.Unlock()

	var errs []error
	for i := len(callbacks) - 1; i >= 0; i-- {
		if err := h.executeCallback(shutdownCtx, names[i], callbacks[i]); err != nil {
			h.logger.WithError(err).Warnf("cleanup %s failed", names[i])
			errs = append(errs, err)
		}
	}

	h.logger.WithDuration(time.Since(start)).Debug("Shutdown complete")
	return errs
}

func (h *Handler) executeCallback(ctx context.Context, name string, callback ShutdownCallback) error {
	done := make(chan error, 1)

	go func() {
		done <- callback(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &TimeoutError{CallbackName: name}
	}
}

// TimeoutError is returned when a callback times out.
type TimeoutError struct {
	CallbackName string
}

func (e *TimeoutError) Error() string {
	return "shutdown callback timed out: " + e.CallbackName
}
