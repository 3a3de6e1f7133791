// Package session is the reference implementation of the session metadata
// persistence collaborator named in spec.md §6: a key-value store indexed
// by session id holding SessionMetadata, with extension_data keyed
// "<ext>.<version>" so extensions own versioned slices without collision.
// Grounded on the teacher's nevindra-oasis/store/sqlite persistence
// pattern, scaled to one table.
package session

import (
	"time"
)

// ExecutionMode determines whether an agent receives a scheduler handle
// and whether it may spawn further sub-tasks.
type ExecutionMode string

const (
	ModeInteractive ExecutionMode = "interactive"
	ModeBackground  ExecutionMode = "background"
	ModeSubTask     ExecutionMode = "sub_task"
)

// Metadata is the persisted record for one session.
type Metadata struct {
	ID          string
	WorkingDir  string
	Description string

	MessageCount int

	InputTokens       int
	OutputTokens      int
	TotalTokens       int
	AccumulatedInput  int
	AccumulatedOutput int
	AccumulatedTotal  int

	ScheduleID string
	Recipe     string

	// ExtensionData is keyed "<extension_name>.<version>" so an extension
	// can own a versioned slice of arbitrary JSON without colliding with
	// another extension's data.
	ExtensionData map[string]any

	TodoContent string

	ParentSessionID string // set only when ExecutionMode == ModeSubTask

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewMetadata returns a fresh Metadata for a new session id.
func NewMetadata(id, workingDir string) Metadata {
	now := time.Now()
	return Metadata{
		ID:            id,
		WorkingDir:    workingDir,
		ExtensionData: make(map[string]any),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// AddUsage accumulates token counts from one ProviderUsage onto both the
// last-call and lifetime-accumulated fields.
func (m *Metadata) AddUsage(input, output, total int) {
	m.InputTokens, m.OutputTokens, m.TotalTokens = input, output, total
	m.AccumulatedInput += input
	m.AccumulatedOutput += output
	m.AccumulatedTotal += total
	m.UpdatedAt = time.Now()
}
