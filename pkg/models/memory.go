package models

import "time"

// Memory is the atomic unit of storage: a piece of text plus its embedding,
// access-control scope, and feedback counters.
type Memory struct {
	ID             string         `json:"id"`
	ProjectID      string         `json:"project_id"`
	Namespace      string         `json:"namespace"`
	AgentID        string         `json:"agent_id"`
	Content        string         `json:"content"`
	ContentHash    string         `json:"-"`
	Embedding      []float32      `json:"-"`
	Scope          Scope          `json:"scope"`
	SharedWith     []string       `json:"shared_with,omitempty"`
	MemoryType     MemoryType     `json:"memory_type"`
	IsDeprecated   bool           `json:"is_deprecated"`
	SupersededBy   *string        `json:"superseded_by,omitempty"`
	DeprecationReason *string     `json:"deprecation_reason,omitempty"`
	HelpfulVotes   int64          `json:"helpful_votes"`
	HarmfulVotes   int64          `json:"harmful_votes"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	TTLSeconds     *int64         `json:"ttl_seconds,omitempty"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	SessionID      *string        `json:"session_id,omitempty"`
	EntityID       *string        `json:"entity_id,omitempty"`
	SequenceNumber *int64         `json:"sequence_number,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Effectiveness returns the derived score (helpful-harmful)/(helpful+harmful+1),
// which always lies in the open interval (-1, 1).
func (m *Memory) Effectiveness() float64 {
	h, b := float64(m.HelpfulVotes), float64(m.HarmfulVotes)
	return (h - b) / (h + b + 1)
}

// VoteSample returns the total number of votes cast on the memory.
func (m *Memory) VoteSample() int64 {
	return m.HelpfulVotes + m.HarmfulVotes
}

// AddInput is the payload accepted by Memory.Add / add_batch items.
type AddInput struct {
	Content    string         `json:"content"`
	AgentID    string         `json:"agent_id"`
	Namespace  string         `json:"namespace,omitempty"`
	Scope      Scope          `json:"scope,omitempty"`
	SharedWith []string       `json:"shared_with,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	MemoryType MemoryType     `json:"memory_type,omitempty"`
	TTLSeconds *int64         `json:"ttl,omitempty"`
	SessionID  *string        `json:"session_id,omitempty"`
	EntityID   *string        `json:"entity_id,omitempty"`
	SequenceNumber *int64     `json:"sequence_number,omitempty"`
}

// SearchFilters narrows a semantic_search / playbook / typed query beyond the
// mandatory tenant/ACL/TTL/deprecation predicates.
type SearchFilters struct {
	Metadata map[string]any
}

// ScoredMemory pairs a Memory with its cosine distance to the query embedding.
type ScoredMemory struct {
	Memory   *Memory `json:"memory"`
	Distance float64 `json:"distance"`
}

// VoteHistory is an append-only record of a single vote cast on a Memory.
type VoteHistory struct {
	ID            string    `json:"id"`
	Sequence      int64     `json:"sequence"`
	MemoryID      string    `json:"memory_id"`
	VoterAgentID  string    `json:"voter_agent_id"`
	Vote          VoteKind  `json:"vote"`
	Context       *string   `json:"context,omitempty"`
	TaskID        *string   `json:"task_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// DeltaOp is a single atomic operation within an ACE delta batch.
type DeltaOp struct {
	Type            DeltaOpType    `json:"type"`
	Add             *AddInput      `json:"add,omitempty"`
	MemoryID        string         `json:"memory_id,omitempty"`
	MetadataPatch   map[string]any `json:"metadata_patch,omitempty"`
	SupersededBy    *string        `json:"superseded_by,omitempty"`
	DeprecationReason *string      `json:"deprecation_reason,omitempty"`
}
