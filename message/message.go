// Package message defines the wire-agnostic conversation data model shared
// by every component of the agent runtime: roles, content variants, tool
// calls, and the conversation-level invariants the reply loop depends on.
//
// Content is a closed sum type the way the teacher models a2a.Part — an
// interface with an unexported marker method and a fixed set of concrete
// implementations switched on exhaustively at every boundary.
package message

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Content is implemented by every content variant a Message can carry.
// The set is closed: Text, Image, ToolRequest, ToolResponse, Thinking,
// RedactedThinking, ContextLengthExceeded, SummarizationRequested, and
// FrontendToolRequest.
type Content interface {
	contentMarker()
}

// Text is a plain text content block.
type Text struct {
	Text string
}

func (Text) contentMarker() {}

// Image carries inline base64-encoded image bytes.
type Image struct {
	Data string
	Mime string
}

func (Image) contentMarker() {}

// ToolCall is the name/arguments pair a model asks the runtime to dispatch.
// Name is "<extension_key>__<tool_name>" once prefixed by the extension
// manager; "__" is the reserved delimiter.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// ToolRequest pairs a unique id with either a successfully parsed ToolCall
// or a ParseError describing why the model's tool-call payload couldn't be
// parsed into one.
type ToolRequest struct {
	ID         string
	Call       *ToolCall
	ParseError string
}

func (ToolRequest) contentMarker() {}

// ToolError is the closed error taxonomy tool dispatch can fail with.
type ToolError struct {
	Kind    ToolErrorKind
	Message string
}

func (e *ToolError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

type ToolErrorKind string

const (
	ToolErrorInvalidParameters ToolErrorKind = "invalid_parameters"
	ToolErrorExecutionError    ToolErrorKind = "execution_error"
	ToolErrorSchemaError       ToolErrorKind = "schema_error"
	ToolErrorNotFound          ToolErrorKind = "not_found"
)

// ToolResponse carries the result of dispatching a ToolRequest with the
// same ID. Exactly one of Content/Err is set.
type ToolResponse struct {
	ID      string
	Content []Content
	Err     *ToolError
}

func (ToolResponse) contentMarker() {}

// Thinking carries a model's visible reasoning trace.
type Thinking struct {
	ID        string
	Text      string
	Signature string
}

func (Thinking) contentMarker() {}

// RedactedThinking carries an opaque, provider-redacted reasoning blob.
type RedactedThinking struct {
	Data string
}

func (RedactedThinking) contentMarker() {}

// ContextLengthExceeded marks that the provider rejected the request for
// exceeding its context window.
type ContextLengthExceeded struct {
	Detail string
}

func (ContextLengthExceeded) contentMarker() {}

// SummarizationRequested is the compaction marker inserted by the context
// manager: user-visible, never agent-visible.
type SummarizationRequested struct {
	Notice string
}

func (SummarizationRequested) contentMarker() {}

// FrontendToolRequest is a tool call the runtime delegates to the calling
// frontend instead of dispatching itself (e.g. editor-native tools).
type FrontendToolRequest struct {
	ID   string
	Call ToolCall
}

func (FrontendToolRequest) contentMarker() {}

// Metadata carries visibility flags for a Message. Both default true: a
// message is shown to the user and sent to the model unless marked
// otherwise by the context manager's summarization rewrite.
type Metadata struct {
	UserVisible  bool
	AgentVisible bool

	// ConfirmationRequestID is set on a user-visible message emitted by
	// the reply loop's inspection step when a tool call needs approval
	// before dispatch; callers reply out-of-band keyed by this id.
	ConfirmationRequestID string
}

// DefaultMetadata returns metadata with both visibility flags set.
func DefaultMetadata() Metadata { return Metadata{UserVisible: true, AgentVisible: true} }

// UserOnly returns metadata visible to the user but hidden from the model.
func UserOnly() Metadata { return Metadata{UserVisible: true, AgentVisible: false} }

// AgentOnly returns metadata sent to the model but hidden from the user.
func AgentOnly() Metadata { return Metadata{UserVisible: false, AgentVisible: true} }

// Message is a role-tagged, time-stamped, non-empty ordered sequence of
// Content items.
type Message struct {
	ID        string
	Role      Role
	Content   []Content
	Metadata  Metadata
	Timestamp time.Time
}

// New constructs a Message, validating the non-empty-content invariant.
func New(role Role, metadata Metadata, content ...Content) (Message, error) {
	if len(content) == 0 {
		return Message{}, fmt.Errorf("message: content must be non-empty")
	}
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		Timestamp: time.Now(),
	}, nil
}

// MustNew is New but panics on error; for call sites building messages from
// constants the runtime controls (never user input).
func MustNew(role Role, metadata Metadata, content ...Content) Message {
	m, err := New(role, metadata, content...)
	if err != nil {
		panic(err)
	}
	return m
}

// UserText is a convenience constructor for a single-text user message.
func UserText(text string) Message {
	return MustNew(RoleUser, DefaultMetadata(), Text{Text: text})
}

// AssistantText is a convenience constructor for a single-text assistant
// message.
func AssistantText(text string) Message {
	return MustNew(RoleAssistant, DefaultMetadata(), Text{Text: text})
}

// WithMetadata returns a copy of m with metadata replaced.
func (m Message) WithMetadata(md Metadata) Message {
	m.Metadata = md
	return m
}

// ToolRequests returns every ToolRequest content item in the message, in
// order.
func (m Message) ToolRequests() []ToolRequest {
	var out []ToolRequest
	for _, c := range m.Content {
		if tr, ok := c.(ToolRequest); ok {
			out = append(out, tr)
		}
	}
	return out
}

// ToolResponses returns every ToolResponse content item in the message, in
// order.
func (m Message) ToolResponses() []ToolResponse {
	var out []ToolResponse
	for _, c := range m.Content {
		if tr, ok := c.(ToolResponse); ok {
			out = append(out, tr)
		}
	}
	return out
}

// HasToolRequests reports whether the message carries any ToolRequest
// content.
func (m Message) HasToolRequests() bool { return len(m.ToolRequests()) > 0 }

// Text concatenates every Text content item's text, in order.
func (m Message) Text() string {
	var s string
	for _, c := range m.Content {
		if t, ok := c.(Text); ok {
			s += t.Text
		}
	}
	return s
}
