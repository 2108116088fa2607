package models

import "time"

// Stage is one step of the pipeline workflow.
type Stage string

const (
	StageIntake    Stage = "intake"
	StageTriage    Stage = "triage"
	StageBuild     Stage = "build"
	StageQA        Stage = "qa"
	StageAudit     Stage = "audit"
	StageIntegrate Stage = "integrate"
	StageRelease   Stage = "release"
	StageClosed    Stage = "closed"
)

// Stages lists every stage in workflow order.
var Stages = []Stage{
	StageIntake, StageTriage, StageBuild, StageQA,
	StageAudit, StageIntegrate, StageRelease, StageClosed,
}

// Valid returns true if the stage is a known value.
func (s Stage) Valid() bool {
	switch s {
	case StageIntake, StageTriage, StageBuild, StageQA,
		StageAudit, StageIntegrate, StageRelease, StageClosed:
		return true
	default:
		return false
	}
}

// ItemStatus is the coarse state of a pipeline item, orthogonal to its stage.
type ItemStatus string

const (
	ItemActive    ItemStatus = "active"
	ItemPaused    ItemStatus = "paused"
	ItemBlocked   ItemStatus = "blocked"
	ItemCompleted ItemStatus = "completed"
	ItemCancelled ItemStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemActive, ItemPaused, ItemBlocked, ItemCompleted, ItemCancelled:
		return true
	default:
		return false
	}
}

// Priority orders pipeline items for display and pickup.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// PipelineItem is one tracked unit of cross-cutting work.
type PipelineItem struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Stage       Stage             `json:"stage"`
	Status      ItemStatus        `json:"status"`
	Priority    Priority          `json:"priority"`
	// Assignee is empty when the item is unowned (closed items).
	Assignee  Role              `json:"assignee,omitempty"`
	CreatedBy Role              `json:"created_by"`
	History   []Transition      `json:"history"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Transition is one immutable stage change record.
type Transition struct {
	From        Stage     `json:"from"`
	To          Stage     `json:"to"`
	TriggeredBy Role      `json:"triggered_by"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}
