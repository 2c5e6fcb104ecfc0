package cli

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/alnah/smplexport/internal/config"
)

// ---------------------------------------------------------------------------
// syncBuffer - thread-safe bytes.Buffer for concurrent test output
// ---------------------------------------------------------------------------

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Compile-time check that syncBuffer implements io.Writer.
var _ io.Writer = (*syncBuffer)(nil)

// ---------------------------------------------------------------------------
// testEnv - creates a fully mocked Env for testing
// ---------------------------------------------------------------------------

// testEnvOptions configures a test environment.
type testEnvOptions struct {
	stdout    *syncBuffer
	stderr    *syncBuffer
	getenv    func(string) string
	fs        afero.Fs
	cfg       *mockConfigLoader
	interrupt *mockInterrupt
}

// testEnvOption configures testEnv.
type testEnvOption func(*testEnvOptions)

func withConfig(cfg config.Config) testEnvOption {
	return func(o *testEnvOptions) {
		o.cfg = &mockConfigLoader{LoadFunc: func() (config.Config, error) { return cfg, nil }}
	}
}

func withGetenv(m map[string]string) testEnvOption {
	return func(o *testEnvOptions) {
		o.getenv = staticEnv(m)
	}
}

func withInterrupt(m *mockInterrupt) testEnvOption {
	return func(o *testEnvOptions) {
		o.interrupt = m
	}
}

// testIO gives access to what a command printed.
type testIO struct {
	fs     afero.Fs
	stdout *syncBuffer
	stderr *syncBuffer
}

// testEnv creates an Env over a MemMapFs with mocked config and signals.
func testEnv(opts ...testEnvOption) (*Env, testIO) {
	o := &testEnvOptions{
		stdout:    &syncBuffer{},
		stderr:    &syncBuffer{},
		getenv:    staticEnv(nil),
		fs:        afero.NewMemMapFs(),
		cfg:       &mockConfigLoader{},
		interrupt: &mockInterrupt{},
	}
	for _, opt := range opts {
		opt(o)
	}

	env := &Env{
		Stdout:           o.stdout,
		Stderr:           o.stderr,
		Getenv:           o.getenv,
		Now:              fixedTime(time.Date(2026, 1, 26, 14, 30, 52, 0, time.UTC)),
		Fs:               o.fs,
		ConfigLoader:     o.cfg,
		InterruptFactory: o.interrupt.factory,
	}
	return env, testIO{fs: o.fs, stdout: o.stdout, stderr: o.stderr}
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// fixedTime returns a function that always returns the given time.
func fixedTime(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// staticEnv returns a getenv function that returns values from the given map.
func staticEnv(env map[string]string) func(string) string {
	return func(key string) string {
		return env[key]
	}
}

// motionJSON is a valid two-frame bundle.
const motionJSON = `{
	"global": {
		"body_pose": {"dtype": "float32", "shape": [2, 1, 3], "data": [[[0, 1, 2]], [[3, 4, 5]]],
		              "device": "cuda:0", "requires_grad": true},
		"global_orient": [[0, 0, 0], [0.1, 0.2, 0.3]],
		"transl": [[1, 2, 3], [4, 5, 6]],
		"betas": [0, 0, 0, 0, 0, 0, 0, 0, 0, 0]
	},
	"incam": {}
}`

// writeFile writes content into the test filesystem.
func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockConfigLoader struct {
	LoadFunc func() (config.Config, error)

	mu        sync.Mutex
	loadCalls int
}

func (m *mockConfigLoader) Load() (config.Config, error) {
	m.mu.Lock()
	m.loadCalls++
	m.mu.Unlock()

	if m.LoadFunc != nil {
		return m.LoadFunc()
	}
	return config.Config{}, nil
}

func (m *mockConfigLoader) LoadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadCalls
}

// mockInterrupt hands out a context the test can cancel, standing in for
// a first Ctrl+C.
type mockInterrupt struct {
	mu          sync.Mutex
	cancel      context.CancelFunc
	interrupted bool
	stopped     bool
	// preCancel cancels the context before any job is scheduled.
	preCancel bool
}

func (m *mockInterrupt) factory(ctx context.Context) (InterruptHandler, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	if m.preCancel {
		m.interrupted = true
		cancel()
	}
	m.mu.Unlock()
	return m, ctx
}

func (m *mockInterrupt) WasInterrupted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interrupted
}

func (m *mockInterrupt) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *mockInterrupt) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}
