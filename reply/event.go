package reply

import (
	"github.com/goose-run/goose-core/extension"
	"github.com/goose-run/goose-core/message"
)

// AgentEvent is the closed set of events Reply streams to its caller.
// Generalized from the teacher's a2a.Message-embedding Event/iter.Seq2
// pattern: no remote A2A peer exists here, so the union carries the
// runtime's own message type over a plain channel instead.
type AgentEvent interface {
	agentEventMarker()
}

// MessageEvent carries one message appended to the conversation — an
// assistant reply (possibly partial, mid-stream), or a user-visible
// system notice such as a confirmation request.
type MessageEvent struct {
	Message message.Message
}

func (MessageEvent) agentEventMarker() {}

// McpNotificationEvent carries one server-initiated notification from a
// connected extension (progress or log message), tagged with its source.
type McpNotificationEvent struct {
	Notification extension.NamedNotification
}

func (McpNotificationEvent) agentEventMarker() {}

// ModelChangeEvent fires when the active provider's model name changes
// between turns — e.g. a lead/worker provider handing off from its lead
// model to its worker model, or falling back to lead after worker failures.
type ModelChangeEvent struct {
	Name string
}

func (ModelChangeEvent) agentEventMarker() {}

// HistoryReplacedEvent fires whenever the context manager rewrites the
// conversation (truncation or summarization), carrying the new history
// so the caller can persist it in place of the old one.
type HistoryReplacedEvent struct {
	Conversation *message.Conversation
}

func (HistoryReplacedEvent) agentEventMarker() {}
