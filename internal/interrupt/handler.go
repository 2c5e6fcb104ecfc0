// Package interrupt implements two-stage Ctrl+C handling for long batch
// runs: the first signal stops new work from being scheduled, a second one
// within Window aborts the process.
package interrupt

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ExitInterrupt is the exit code for interrupt (130 = 128 + SIGINT).
const ExitInterrupt = 130

// Window is the time allowed between two signals for the second to abort.
const Window = 2 * time.Second

const (
	drainMessage = "\nInterrupted: finishing in-flight exports (Ctrl+C again to abort)..."
	abortMessage = "\nAborted."
)

// Handler listens for SIGINT/SIGTERM.
type Handler struct {
	mu     sync.Mutex
	first  time.Time
	count  int
	done   chan struct{}
	closed bool
	cancel context.CancelFunc

	exitFunc func(int)
	nowFunc  func() time.Time
	stderr   io.Writer
}

// Options holds injectable dependencies for testing.
type Options struct {
	SigCh    <-chan os.Signal
	ExitFunc func(int)
	NowFunc  func() time.Time
	// Stderr receives user-facing messages and must be safe for
	// concurrent writes.
	Stderr io.Writer
}

// NewHandler creates a handler bound to the process signals. The returned
// context is canceled on the first signal.
func NewHandler(parent context.Context) (*Handler, context.Context) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	return NewHandlerWithOptions(parent, Options{SigCh: sigCh})
}

// NewHandlerWithOptions creates a handler with injected dependencies. A nil
// SigCh starts no listener.
func NewHandlerWithOptions(parent context.Context, opts Options) (*Handler, context.Context) {
	ctx, cancel := context.WithCancel(parent)

	h := &Handler{
		done:     make(chan struct{}),
		cancel:   cancel,
		exitFunc: opts.ExitFunc,
		nowFunc:  opts.NowFunc,
		stderr:   opts.Stderr,
	}
	if h.exitFunc == nil {
		h.exitFunc = os.Exit
	}
	if h.nowFunc == nil {
		h.nowFunc = time.Now
	}
	if h.stderr == nil {
		h.stderr = os.Stderr
	}

	if opts.SigCh != nil {
		go h.listen(opts.SigCh)
	}
	return h, ctx
}

func (h *Handler) listen(sigCh <-chan os.Signal) {
	for {
		select {
		case <-h.done:
			return
		case _, ok := <-sigCh:
			if !ok {
				return
			}
			if h.handle() {
				return
			}
		}
	}
}

// handle records one signal and reports whether the listener should exit.
func (h *Handler) handle() bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return true
	}
	now := h.nowFunc()
	h.count++

	if h.count == 1 {
		h.first = now
		h.cancel()
		h.mu.Unlock()
		_, _ = fmt.Fprintln(h.stderr, drainMessage)
		return false
	}

	if now.Sub(h.first) > Window {
		// Too late to count as a double press; restart the window.
		h.first = now
		h.mu.Unlock()
		_, _ = fmt.Fprintln(h.stderr, drainMessage)
		return false
	}
	h.mu.Unlock()

	_, _ = fmt.Fprintln(h.stderr, abortMessage)
	h.exitFunc(ExitInterrupt)
	return true
}

// WasInterrupted reports whether at least one signal was received.
func (h *Handler) WasInterrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count > 0
}

// Stop releases the signal subscription. Safe to call more than once.
func (h *Handler) Stop() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	signal.Reset(syscall.SIGINT, syscall.SIGTERM)
	close(h.done)
	h.cancel()
}
