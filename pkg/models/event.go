package models

import "time"

// MemoryEvent is one row of the append-only memory timeline underpinning
// dashboards and evaluation.
type MemoryEvent struct {
	EventID   string          `json:"event_id"`
	MemoryID  string          `json:"memory_id"`
	ProjectID string          `json:"project_id"`
	Namespace string          `json:"namespace"`
	AgentID   *string         `json:"agent_id,omitempty"`
	EventType MemoryEventType `json:"event_type"`
	Payload   map[string]any  `json:"event_payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// InteractionEvent is one node in a per-session causal tree of agent actions.
type InteractionEvent struct {
	EventID       string     `json:"event_id"`
	ProjectID     string     `json:"project_id"`
	SessionID     string     `json:"session_id"`
	AgentID       string     `json:"agent_id"`
	ParentEventID *string    `json:"parent_event_id,omitempty"`
	Kind          string     `json:"kind"`
	Content       string     `json:"content"`
	Embedding     []float32  `json:"-"`
	Timestamp     time.Time  `json:"timestamp"`
}

// Project is the top-level tenant isolation boundary.
type Project struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// APIKey is a per-project credential stored only as a one-way digest.
type APIKey struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	KeyHash   string     `json:"-"`
	Name      string     `json:"name"`
	IsActive  bool       `json:"is_active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
