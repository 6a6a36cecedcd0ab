package models

// Scope controls who may read a Memory.
type Scope string

const (
	ScopeAgentPrivate Scope = "agent-private"
	ScopeAgentShared  Scope = "agent-shared"
	ScopeGlobal       Scope = "global"
)

// Valid reports whether s is one of the recognized scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeAgentPrivate, ScopeAgentShared, ScopeGlobal:
		return true
	}
	return false
}

// MemoryType classifies a Memory row.
type MemoryType string

const (
	MemoryTypeStandard   MemoryType = "standard"
	MemoryTypeReflection MemoryType = "reflection"
	MemoryTypeProgress   MemoryType = "progress"
	MemoryTypeFeature    MemoryType = "feature"
	MemoryTypeStrategy   MemoryType = "strategy"
	MemoryTypeEpisodic   MemoryType = "episodic"
	MemoryTypeSemantic   MemoryType = "semantic"
	MemoryTypeProcedural MemoryType = "procedural"
	MemoryTypeControl    MemoryType = "control"
)

func (t MemoryType) Valid() bool {
	switch t {
	case MemoryTypeStandard, MemoryTypeReflection, MemoryTypeProgress, MemoryTypeFeature,
		MemoryTypeStrategy, MemoryTypeEpisodic, MemoryTypeSemantic, MemoryTypeProcedural, MemoryTypeControl:
		return true
	}
	return false
}

// VoteKind is the polarity of a single vote.
type VoteKind string

const (
	VoteHelpful VoteKind = "helpful"
	VoteHarmful VoteKind = "harmful"
)

func (v VoteKind) Valid() bool {
	return v == VoteHelpful || v == VoteHarmful
}

// SessionStatus is the state of a SessionProgress row.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// terminal reports whether no further mutation is accepted from this status.
func (s SessionStatus) terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// CanTransition reports whether the session state machine allows s -> next.
// active -> paused -> active, active -> completed, active -> failed.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	if s.terminal() {
		return false
	}
	switch s {
	case SessionActive:
		return next == SessionPaused || next == SessionCompleted || next == SessionFailed || next == SessionActive
	case SessionPaused:
		return next == SessionActive
	}
	return false
}

// FeatureStatus is the state of a FeatureTracker row.
type FeatureStatus string

const (
	FeatureNotStarted FeatureStatus = "not_started"
	FeatureInProgress FeatureStatus = "in_progress"
	FeatureTesting    FeatureStatus = "testing"
	FeatureComplete   FeatureStatus = "complete"
	FeatureFailed     FeatureStatus = "failed"
	FeatureBlocked    FeatureStatus = "blocked"
)

// CanTransition enforces: not_started -> in_progress -> testing -> (complete|failed);
// in_progress and testing may transition to blocked, and blocked may return to
// either in_progress or testing.
func (s FeatureStatus) CanTransition(next FeatureStatus) bool {
	switch s {
	case FeatureNotStarted:
		return next == FeatureInProgress
	case FeatureInProgress:
		return next == FeatureTesting || next == FeatureBlocked
	case FeatureTesting:
		return next == FeatureComplete || next == FeatureFailed || next == FeatureBlocked
	case FeatureBlocked:
		// The state a feature was blocked from is not recorded, so either
		// non-terminal, non-blocked state is accepted on the way back.
		return next == FeatureInProgress || next == FeatureTesting
	case FeatureComplete, FeatureFailed:
		return false
	}
	return false
}

// RunOutcome is the terminal result of an ACE run.
type RunOutcome string

const (
	RunSuccess RunOutcome = "success"
	RunFailure RunOutcome = "failure"
	RunPartial RunOutcome = "partial"
)

// DeltaOpType identifies a single operation within an ACE delta batch.
type DeltaOpType string

const (
	DeltaAdd       DeltaOpType = "add"
	DeltaUpdate    DeltaOpType = "update"
	DeltaDeprecate DeltaOpType = "deprecate"
)

// MemoryEventType enumerates the append-only memory_events timeline.
type MemoryEventType string

const (
	EventCreated         MemoryEventType = "created"
	EventQueried         MemoryEventType = "queried"
	EventVotedHelpful    MemoryEventType = "voted_helpful"
	EventVotedHarmful    MemoryEventType = "voted_harmful"
	EventDeprecated      MemoryEventType = "deprecated"
	EventDeltaUpdated    MemoryEventType = "delta_updated"
	EventReflected       MemoryEventType = "reflected"
	EventInteractionNote MemoryEventType = "interaction_created"
	EventRunCompleted    MemoryEventType = "run_completed"
)
