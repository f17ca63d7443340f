package infra

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Lifecycle is the standard start/stop interface cmd/pipelineworker expects
// from every long-running dependency it owns (the store connection pool,
// the job queue consumer, the drain worker pool, the emitter sink).
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ComponentHealthChecker reports a Lifecycle's current health for the
// aggregate readiness report.
type ComponentHealthChecker interface {
	Health(ctx context.Context) ComponentHealth
}

// ComponentHealth is one component's health snapshot.
type ComponentHealth struct {
	State   ServiceHealth     `json:"state"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Named gives a component the name it is logged and reported under.
type Named interface {
	Name() string
}

// FullLifecycleComponent is what ComponentManager requires to manage a
// component's startup, shutdown, and health reporting together.
type FullLifecycleComponent interface {
	Lifecycle
	ComponentHealthChecker
	Named
}

// ComponentState tracks where a component is in its lifecycle.
type ComponentState int32

const (
	ComponentStateNew ComponentState = iota
	ComponentStateStarting
	ComponentStateRunning
	ComponentStateStopping
	ComponentStateStopped
	ComponentStateFailed
)

func (s ComponentState) String() string {
	switch s {
	case ComponentStateNew:
		return "new"
	case ComponentStateStarting:
		return "starting"
	case ComponentStateRunning:
		return "running"
	case ComponentStateStopping:
		return "stopping"
	case ComponentStateStopped:
		return "stopped"
	case ComponentStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// BaseComponent gives a Lifecycle implementation its state machine and
// idempotent start/stop bookkeeping for free.
type BaseComponent struct {
	name      string
	state     atomic.Int32
	startTime time.Time
	mu        sync.Mutex
	logger    *slog.Logger
}

func NewBaseComponent(name string, logger *slog.Logger) *BaseComponent {
	if logger == nil {
		logger = slog.Default()
	}
	return &BaseComponent{name: name, logger: logger}
}

func (c *BaseComponent) Name() string { return c.name }

func (c *BaseComponent) State() ComponentState { return ComponentState(c.state.Load()) }

func (c *BaseComponent) IsRunning() bool { return c.State() == ComponentStateRunning }

func (c *BaseComponent) Uptime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startTime.IsZero() {
		return 0
	}
	return time.Since(c.startTime)
}

func (c *BaseComponent) Logger() *slog.Logger { return c.logger }

// TransitionTo compare-and-swaps the state, logging the transition on
// success.
func (c *BaseComponent) TransitionTo(from, to ComponentState) bool {
	if c.state.CompareAndSwap(int32(from), int32(to)) {
		c.logger.Debug("component state transition", "component", c.name, "from", from.String(), "to", to.String())
		return true
	}
	return false
}

func (c *BaseComponent) SetState(state ComponentState) { c.state.Store(int32(state)) }

func (c *BaseComponent) MarkStarted() {
	c.mu.Lock()
	c.startTime = time.Now()
	c.mu.Unlock()
	c.SetState(ComponentStateRunning)
}

func (c *BaseComponent) MarkStopped() { c.SetState(ComponentStateStopped) }

func (c *BaseComponent) MarkFailed() { c.SetState(ComponentStateFailed) }

// ComponentManager starts cmd/pipelineworker's owned components in
// registration order and stops them in reverse, so the drain worker pool
// (registered last) is always the first thing to stop draining in-flight
// work, while the store and database connections it depends on stay up
// until everything above them has quiesced.
type ComponentManager struct {
	mu         sync.RWMutex
	components []FullLifecycleComponent
	logger     *slog.Logger
	started    atomic.Bool
}

func NewComponentManager(logger *slog.Logger) *ComponentManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ComponentManager{logger: logger}
}

func (m *ComponentManager) Register(c FullLifecycleComponent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, c)
}

// Start starts every registered component in order. If one fails, every
// component started before it is stopped again before Start returns.
func (m *ComponentManager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}

	m.mu.RLock()
	components := make([]FullLifecycleComponent, len(m.components))
	copy(components, m.components)
	m.mu.RUnlock()

	started := make([]FullLifecycleComponent, 0, len(components))
	for _, c := range components {
		m.logger.Info("starting component", "component", c.Name())
		if err := c.Start(ctx); err != nil {
			m.logger.Error("component failed to start", "component", c.Name(), "error", err)
			for i := len(started) - 1; i >= 0; i-- {
				if stopErr := started[i].Stop(ctx); stopErr != nil {
					m.logger.Error("error stopping component during rollback", "component", started[i].Name(), "error", stopErr)
				}
			}
			m.started.Store(false)
			return fmt.Errorf("component %s failed to start: %w", c.Name(), err)
		}
		started = append(started, c)
	}

	m.logger.Info("all components started", "count", len(started))
	return nil
}

// Stop stops every registered component in reverse registration order,
// continuing past individual failures and returning their combined error.
func (m *ComponentManager) Stop(ctx context.Context) error {
	if !m.started.CompareAndSwap(true, false) {
		return nil
	}

	m.mu.RLock()
	components := make([]FullLifecycleComponent, len(m.components))
	copy(components, m.components)
	m.mu.RUnlock()

	var errs []error
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		m.logger.Info("stopping component", "component", c.Name())
		if err := c.Stop(ctx); err != nil {
			m.logger.Error("error stopping component", "component", c.Name(), "error", err)
			errs = append(errs, fmt.Errorf("component %s: %w", c.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors stopping components: %v", errs)
	}
	m.logger.Info("all components stopped")
	return nil
}

// Health returns every component's current health, keyed by name, for the
// readiness endpoint.
func (m *ComponentManager) Health(ctx context.Context) map[string]ComponentHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	health := make(map[string]ComponentHealth, len(m.components))
	for _, c := range m.components {
		health[c.Name()] = c.Health(ctx)
	}
	return health
}

// SimpleComponent adapts a pair of start/stop closures into a
// FullLifecycleComponent, for components (the NATS sink, the Redis pool)
// that don't need their own named type.
type SimpleComponent struct {
	*BaseComponent
	startFn func(ctx context.Context) error
	stopFn  func(ctx context.Context) error
}

func NewSimpleComponent(name string, logger *slog.Logger, startFn, stopFn func(ctx context.Context) error) *SimpleComponent {
	return &SimpleComponent{BaseComponent: NewBaseComponent(name, logger), startFn: startFn, stopFn: stopFn}
}

func (c *SimpleComponent) Start(ctx context.Context) error {
	if !c.TransitionTo(ComponentStateNew, ComponentStateStarting) {
		if c.IsRunning() {
			return nil
		}
		return fmt.Errorf("component %s cannot start from state %s", c.Name(), c.State())
	}
	if c.startFn != nil {
		if err := c.startFn(ctx); err != nil {
			c.MarkFailed()
			return err
		}
	}
	c.MarkStarted()
	return nil
}

func (c *SimpleComponent) Stop(ctx context.Context) error {
	if !c.TransitionTo(ComponentStateRunning, ComponentStateStopping) {
		if c.State() == ComponentStateStopped {
			return nil
		}
		if c.State() != ComponentStateFailed {
			return nil
		}
	}
	if c.stopFn != nil {
		if err := c.stopFn(ctx); err != nil {
			c.MarkFailed()
			return err
		}
	}
	c.MarkStopped()
	return nil
}

func (c *SimpleComponent) Health(_ context.Context) ComponentHealth {
	switch c.State() {
	case ComponentStateRunning:
		return ComponentHealth{State: ServiceHealthHealthy, Message: "running", Details: map[string]string{"uptime": c.Uptime().String()}}
	case ComponentStateStopped:
		return ComponentHealth{State: ServiceHealthUnhealthy, Message: "stopped"}
	case ComponentStateFailed:
		return ComponentHealth{State: ServiceHealthUnhealthy, Message: "failed"}
	default:
		return ComponentHealth{State: ServiceHealthUnknown, Message: c.State().String()}
	}
}

var _ FullLifecycleComponent = (*SimpleComponent)(nil)
