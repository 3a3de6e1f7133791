package message

import "fmt"

// Conversation is an ordered list of Message. An empty conversation is
// legal. Messages are immutable once appended.
type Conversation struct {
	messages []Message
}

// NewConversation returns an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{}
}

// Append adds msg to the end of the conversation.
func (c *Conversation) Append(msg Message) {
	c.messages = append(c.messages, msg)
}

// Messages returns the conversation's messages in order. The returned
// slice must not be mutated.
func (c *Conversation) Messages() []Message {
	return c.messages
}

// Len returns the number of messages in the conversation.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Last returns the final message and true, or the zero Message and false
// if the conversation is empty.
func (c *Conversation) Last() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Validate checks the conversation's tool-pairing invariant: every
// ToolResponse.ID must match a ToolRequest.ID from an earlier message, and
// an assistant message with ToolRequest content must be answered by a user
// message with matching ToolResponse content before another assistant
// message is accepted.
func (c *Conversation) Validate() error {
	pending := map[string]bool{}
	for i, m := range c.messages {
		switch m.Role {
		case RoleAssistant:
			if len(pending) > 0 {
				return fmt.Errorf("message: assistant message at index %d follows unanswered tool requests", i)
			}
			for _, tr := range m.ToolRequests() {
				pending[tr.ID] = true
			}
		case RoleUser:
			for _, tresp := range m.ToolResponses() {
				if !pending[tresp.ID] {
					return fmt.Errorf("message: tool response %q at index %d has no matching prior tool request", tresp.ID, i)
				}
				delete(pending, tresp.ID)
			}
		}
	}
	return nil
}

// Clone returns a shallow copy of the conversation's message slice, safe
// for a caller to append to independently.
func (c *Conversation) Clone() *Conversation {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return &Conversation{messages: out}
}
