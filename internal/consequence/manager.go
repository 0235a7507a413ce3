package consequence

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/modqueue/internal/tracing"
)

// Manager accepts consequences.
type Manager interface {
	// Add submits c. A RealManager runs it before returning; a
	// MockManager only records it.
	Add(ctx context.Context, c Consequence) Result
}

// Execution is one consequence a RealManager ran and its outcome.
type Execution struct {
	Consequence Consequence
	Result      Result
}

// RealManager runs each submitted consequence exactly once, synchronously,
// in submission order. Nothing is retried or rolled back: if a later
// consequence fails, earlier effects stand.
type RealManager struct {
	env    *Env
	tracer *tracing.Tracer
	logger *slog.Logger

	mu       sync.Mutex
	executed []Execution
}

// ManagerOption configures a RealManager.
type ManagerOption func(*RealManager)

// WithTracer opens a span per consequence.
func WithTracer(t *tracing.Tracer) ManagerOption {
	return func(m *RealManager) { m.tracer = t }
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *RealManager) { m.logger = l }
}

// NewManager creates a manager running consequences against env.
func NewManager(env *Env, opts ...ManagerOption) *RealManager {
	m := &RealManager{
		env:    env,
		tracer: tracing.Noop(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if env.Logger == nil {
		env.Logger = m.logger
	}
	return m
}

// Add runs c and returns its result. Calls are serialized.
func (m *RealManager) Add(ctx context.Context, c Consequence) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, span := m.tracer.Start(ctx, "consequence."+string(c.Kind()), nil)
	m.logger.Debug("running consequence", "kind", c.Kind())

	res := c.Run(ctx, m.env)
	span.End(res.Err)

	if res.Err != nil {
		m.logger.Info("consequence failed", "kind", c.Kind(), "code", res.Code(), "error", res.Err)
	}
	m.executed = append(m.executed, Execution{Consequence: c, Result: res})
	return res
}

// Executed returns the consequences run so far, in order.
func (m *RealManager) Executed() []Execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Execution(nil), m.executed...)
}

// MockManager records consequences without running them. Results are
// taken from per-kind queues set with MockResult; a kind with an empty
// queue yields OK(nil).
type MockManager struct {
	mu           sync.Mutex
	consequences []Consequence
	results      map[Kind][]Result
}

// NewMockManager creates an empty recorder.
func NewMockManager() *MockManager {
	return &MockManager{results: make(map[Kind][]Result)}
}

// MockResult queues r as the result of the next Add of kind.
func (m *MockManager) MockResult(kind Kind, r Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[kind] = append(m.results[kind], r)
}

// Add records c and returns the next queued result for its kind.
func (m *MockManager) Add(_ context.Context, c Consequence) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consequences = append(m.consequences, c)
	q := m.results[c.Kind()]
	if len(q) == 0 {
		return OK(nil)
	}
	m.results[c.Kind()] = q[1:]
	return q[0]
}

// Consequences returns everything recorded, in order.
func (m *MockManager) Consequences() []Consequence {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Consequence(nil), m.consequences...)
}
