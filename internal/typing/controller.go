// Package typing keeps a visitor-visible "typing" indicator alive during
// long-running generation (spec component C2), guaranteeing that every
// start() is matched by exactly one stop() publish on every exit path.
// Adapted from the teacher's TypingController: a ticker drives periodic
// refresh, a "sealed" flag blocks late restarts after cleanup, the same
// shape as the original but the contract is now the heartbeat described in
// spec.md §4.2 rather than the teacher's tool-loop-driven state machine.
package typing

import (
	"context"
	"sync"
	"time"

	"github.com/conversationai/pipeline/internal/emitter"
)

// DefaultHeartbeatInterval is the recommended interval between typing=true
// refreshes (spec.md §4.2).
const DefaultHeartbeatInterval = 4 * time.Second

// DefaultClientTTL is the recommended client-side TTL a typing=true event
// should be considered valid for; informational only, the controller does
// not enforce it (the receiving client does).
const DefaultClientTTL = 6 * time.Second

const (
	stopRetries    = 2
	stopRetryDelay = 100 * time.Millisecond
)

// Logger is the minimal logging seam, satisfied by
// internal/observability.Logger.
type Logger interface {
	Error(ctx context.Context, msg string, kv ...any)
}

// Route carries the routing fields every typing event must include.
// Missing VisitorID/WebsiteID/OrganizationID suppresses emission entirely,
// per spec.md §4.2.
type Route struct {
	ConversationID string
	OrganizationID string
	WebsiteID      string
	VisitorID      string
	UserID         string
}

func (r Route) valid() bool {
	return r.ConversationID != "" && r.OrganizationID != "" && r.WebsiteID != "" && r.VisitorID != ""
}

// Controller manages one conversation's typing heartbeat for the duration
// of a single pipeline run. It is not safe to reuse after Stop: construct a
// fresh Controller per drain iteration.
type Controller struct {
	mu sync.Mutex

	sink     emitter.Sink
	logger   Logger
	route    Route
	interval time.Duration

	running bool
	sealed  bool

	ticker *time.Ticker
	stopCh chan struct{}
}

// New creates a typing heartbeat controller. interval <= 0 uses
// DefaultHeartbeatInterval.
func New(sink emitter.Sink, logger Logger, route Route, interval time.Duration) *Controller {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Controller{sink: sink, logger: logger, route: route, interval: interval}
}

// Start is idempotent: a no-op if the heartbeat is already running or has
// already been sealed by Stop. Emits an immediate typing=true, then one
// every interval until Stop is called.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.sealed || c.running {
		c.mu.Unlock()
		return
	}
	if !c.route.valid() {
		c.mu.Unlock()
		c.logError(ctx, "typing: missing routing fields, suppressing heartbeat")
		return
	}

	c.running = true
	c.stopCh = make(chan struct{})
	c.ticker = time.NewTicker(c.interval)
	stopCh := c.stopCh
	ticker := c.ticker
	c.mu.Unlock()

	c.emit(ctx, true)

	go c.loop(ctx, ticker, stopCh)
}

func (c *Controller) loop(ctx context.Context, ticker *time.Ticker, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			c.emit(ctx, true)
		}
	}
}

// Stop clears the ticker first, then emits typing=false with up to 2
// retries spaced 100ms apart. All-failed is logged but never returned as a
// fatal condition (spec.md §4.2). Safe to call multiple times and safe to
// call even if Start was never called or was suppressed.
func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	if c.sealed {
		c.mu.Unlock()
		return
	}
	c.sealed = true
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	route := c.route
	c.running = false
	c.mu.Unlock()

	if !route.valid() {
		return
	}

	for attempt := 0; attempt <= stopRetries; attempt++ {
		if c.emit(ctx, false) {
			return
		}
		if attempt < stopRetries {
			time.Sleep(stopRetryDelay)
		}
	}
	c.logError(ctx, "typing: failed to emit stop after retries")
}

// IsSealed reports whether Stop has already run, per invariant 8's
// guarantee that a sealed controller never restarts.
func (c *Controller) IsSealed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sealed
}

func (c *Controller) emit(ctx context.Context, isTyping bool) bool {
	c.mu.Lock()
	route := c.route
	c.mu.Unlock()

	err := c.sink.Publish(ctx, emitter.Event{
		Kind:           emitter.KindTyping,
		OrganizationID: route.OrganizationID,
		WebsiteID:      route.WebsiteID,
		ConversationID: route.ConversationID,
		VisitorID:      route.VisitorID,
		UserID:         route.UserID,
		Audience:       emitter.AudienceAll,
		IsTyping:       isTyping,
		Time:           time.Now(),
	})
	return err == nil
}

func (c *Controller) logError(ctx context.Context, msg string) {
	if c.logger == nil {
		return
	}
	c.mu.Lock()
	convID := c.route.ConversationID
	c.mu.Unlock()
	c.logger.Error(ctx, msg, "conversationId", convID)
}
