package emitter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes events to subjects events.<organizationId>.<websiteId>.
// <audience> for the dashboard/widget transport process to subscribe to.
// Wired because the spec treats realtime fan-out as an external
// collaborator (spec.md §1) reachable only through a pub/sub transport;
// nothing else in this repository needs one.
type NATSSink struct {
	conn   *nats.Conn
	logger ErrorLogger
}

// NewNATSSink wraps an already-connected nats.Conn.
func NewNATSSink(conn *nats.Conn, logger ErrorLogger) *NATSSink {
	return &NATSSink{conn: conn, logger: logger}
}

type wireEvent struct {
	Kind           Kind     `json:"kind"`
	OrganizationID string   `json:"organizationId"`
	WebsiteID      string   `json:"websiteId"`
	ConversationID string   `json:"conversationId"`
	VisitorID      string   `json:"visitorId,omitempty"`
	UserID         string   `json:"userId,omitempty"`
	Audience       Audience `json:"audience"`
	ShouldAct      bool     `json:"shouldAct,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	Phase          string   `json:"phase,omitempty"`
	Tool           string   `json:"tool,omitempty"`
	ToolState      string   `json:"toolState,omitempty"`
	IsTyping       bool     `json:"isTyping,omitempty"`
	Status         string   `json:"status,omitempty"`
	Action         string   `json:"action,omitempty"`
}

// Publish implements Sink. Marshal/publish failures are always logged here
// (so ordinary fire-and-forget callers need not check the return value);
// the error is also returned for the handful of callers that need it, per
// spec.md §4.2.
func (s *NATSSink) Publish(ctx context.Context, event Event) error {
	subject := fmt.Sprintf("events.%s.%s.%s", event.OrganizationID, event.WebsiteID, event.Audience)
	payload := wireEvent{
		Kind:           event.Kind,
		OrganizationID: event.OrganizationID,
		WebsiteID:      event.WebsiteID,
		ConversationID: event.ConversationID,
		VisitorID:      event.VisitorID,
		UserID:         event.UserID,
		Audience:       event.Audience,
		ShouldAct:      event.ShouldAct,
		Reason:         event.Reason,
		Phase:          event.Phase,
		Tool:           event.Tool,
		ToolState:      event.ToolState,
		IsTyping:       event.IsTyping,
		Status:         event.Status,
		Action:         event.Action,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		if s.logger != nil {
			s.logger.Error(ctx, "emitter: marshal failed", "kind", event.Kind, "err", err)
		}
		return err
	}
	if err := s.conn.Publish(subject, data); err != nil {
		if s.logger != nil {
			s.logger.Error(ctx, "emitter: publish failed", "subject", subject, "err", err)
		}
		return err
	}
	return nil
}
