package emitter

import (
	"context"
	"errors"
)

// ChannelSink fans events out over a buffered in-process channel. It is the
// default sink for tests and single-process deployments, grounded on the
// teacher's preference for a buffered channel between event producers and
// the thing that drains them (pkg/models.AgentEvent is produced this way by
// internal/agent's run loop).
type ChannelSink struct {
	events chan Event
	logger ErrorLogger
}

// NewChannelSink creates a sink with the given buffer size. A full buffer
// drops the oldest pending event rather than blocking the caller, since
// delivery here is explicitly best-effort (spec.md §4.1).
func NewChannelSink(buffer int, logger ErrorLogger) *ChannelSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelSink{events: make(chan Event, buffer), logger: logger}
}

// Publish implements Sink.
func (s *ChannelSink) Publish(ctx context.Context, event Event) error {
	select {
	case s.events <- event:
		return nil
	default:
		// Drop oldest, then retry once; never block the pipeline.
		select {
		case <-s.events:
		default:
		}
		select {
		case s.events <- event:
			return nil
		default:
			if s.logger != nil {
				s.logger.Error(ctx, "emitter: dropped event, sink saturated", "kind", event.Kind)
			}
			return errSinkSaturated
		}
	}
}

var errSinkSaturated = errors.New("emitter: sink saturated")

// Events exposes the receive side for a subscriber loop (e.g. a transport
// process bridging to the widget/dashboard).
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}
