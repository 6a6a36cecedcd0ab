package models

import "time"

// BlockedItem is a next/blocked entry carrying the reason work stalled.
type BlockedItem struct {
	Item   string `json:"item"`
	Reason string `json:"reason"`
}

// SessionProgress tracks a long-running unit of work across context resets.
type SessionProgress struct {
	SessionID   string        `json:"session_id"`
	ProjectID   string        `json:"project_id"`
	AgentID     string        `json:"agent_id"`
	Completed   []string      `json:"completed"`
	InProgress  []string      `json:"in_progress"`
	Next        []string      `json:"next"`
	Blocked     []BlockedItem `json:"blocked"`
	Summary     string        `json:"summary"`
	LastAction  string        `json:"last_action"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// SessionPatch is a shallow-merge update to a SessionProgress.
type SessionPatch struct {
	Completed  *[]string      `json:"completed,omitempty"`
	InProgress *[]string      `json:"in_progress,omitempty"`
	Next       *[]string      `json:"next,omitempty"`
	Blocked    *[]BlockedItem `json:"blocked,omitempty"`
	Summary    *string        `json:"summary,omitempty"`
	LastAction *string        `json:"last_action,omitempty"`
	Status     *SessionStatus `json:"status,omitempty"`
}

// FeatureTracker is a completion gate tying a task to verifiable test steps.
type FeatureTracker struct {
	FeatureID     string        `json:"feature_id"`
	ProjectID     string        `json:"project_id"`
	Description   string        `json:"description"`
	TestSteps     []string      `json:"test_steps"`
	Status        FeatureStatus `json:"status"`
	Passes        bool          `json:"passes"`
	FailureReason *string       `json:"failure_reason,omitempty"`
	VerifiedBy    *string       `json:"verified_by,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// FeaturePatch is the accepted PATCH body for a feature's transition.
type FeaturePatch struct {
	Status        *FeatureStatus `json:"status,omitempty"`
	Description   *string        `json:"description,omitempty"`
	TestSteps     *[]string      `json:"test_steps,omitempty"`
	FailureReason *string        `json:"failure_reason,omitempty"`
	VerifiedBy    *string        `json:"verified_by,omitempty"`
}

// ACERun records one agent execution for auto-feedback purposes.
type ACERun struct {
	RunID        string     `json:"run_id"`
	ProjectID    string     `json:"project_id"`
	AgentID      string     `json:"agent_id"`
	Task         string     `json:"task"`
	MemoriesUsed []string   `json:"memories_used"`
	Outcome      RunOutcome `json:"outcome,omitempty"`
	ErrorPattern *string    `json:"error_pattern,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}
