package models

import "time"

// MissionStatus tracks the lifecycle of a mission.
type MissionStatus string

const (
	// MissionPlanning indicates the coordinator is decomposing the instruction.
	MissionPlanning MissionStatus = "planning"
	// MissionDispatched indicates squads have been briefed.
	MissionDispatched MissionStatus = "dispatched"
	// MissionInProgress indicates squads are executing concurrently.
	MissionInProgress MissionStatus = "in_progress"
	// MissionSynthesizing indicates squad results are being assembled.
	MissionSynthesizing MissionStatus = "synthesizing"
	// MissionCompleted indicates the mission finished with a report.
	MissionCompleted MissionStatus = "completed"
	// MissionFailed indicates the mission could not produce a report.
	MissionFailed MissionStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s MissionStatus) Valid() bool {
	switch s {
	case MissionPlanning, MissionDispatched, MissionInProgress,
		MissionSynthesizing, MissionCompleted, MissionFailed:
		return true
	default:
		return false
	}
}

// UnitStatus tracks the lifecycle of a squad or sub-task.
type UnitStatus string

const (
	UnitPending    UnitStatus = "pending"
	UnitInProgress UnitStatus = "in_progress"
	UnitCompleted  UnitStatus = "completed"
	UnitFailed     UnitStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s UnitStatus) Valid() bool {
	switch s {
	case UnitPending, UnitInProgress, UnitCompleted, UnitFailed:
		return true
	default:
		return false
	}
}

// Callsigns are the squad identifiers in assignment order. The roster has
// four specialists, so a mission never needs more than four.
var Callsigns = []string{"ALPHA", "BRAVO", "CHARLIE", "DELTA"}

// Mission is one large instruction decomposed into specialist squads.
type Mission struct {
	ID          string        `json:"id"`
	Instruction string        `json:"instruction"`
	Requester   string        `json:"requester"`
	ChannelID   string        `json:"channel_id"`
	Status      MissionStatus `json:"status"`
	Squads      []*Squad      `json:"squads"`
	FinalReport string        `json:"final_report,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
}

// Squad is one specialist-owned unit of a mission.
type Squad struct {
	ID           string     `json:"id"`
	Callsign     string     `json:"callsign"`
	MissionID    string     `json:"mission_id"`
	Specialist   Role       `json:"specialist"`
	Objective    string     `json:"objective"`
	Context      string     `json:"context"`
	Deliverables []string   `json:"deliverables"`
	SubTasks     []*SubTask `json:"sub_tasks"`
	Status       UnitStatus `json:"status"`
	Priority     int        `json:"priority"`
	Result       string     `json:"result,omitempty"`
	StartedAt    time.Time  `json:"started_at,omitempty"`
	CompletedAt  time.Time  `json:"completed_at,omitempty"`
}

// SubTask is the leaf unit of mission work, executed in parallel with its
// siblings.
type SubTask struct {
	ID          string     `json:"id"`
	SquadID     string     `json:"squad_id"`
	Description string     `json:"description"`
	// Executor is "self" or an external execution backend id.
	Executor    string     `json:"executor"`
	Status      UnitStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	StartedAt   time.Time  `json:"started_at,omitempty"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`
}

// ExecutorSelf marks a sub-task executed by the specialist's own agentic loop.
const ExecutorSelf = "self"

// Briefing is what a squad receives before execution: its own objective plus
// a summary of sibling squads, never their internals.
type Briefing struct {
	MissionID    string
	SquadID      string
	Callsign     string
	Objective    string
	Context      string
	Deliverables []string
	Siblings     []SiblingSummary
}

// SiblingSummary is the visible slice of a peer squad inside a briefing.
type SiblingSummary struct {
	Callsign   string
	Specialist Role
	Objective  string
}

// SquadReport is the fan-in record for one squad.
type SquadReport struct {
	MissionID  string
	SquadID    string
	Callsign   string
	Specialist Role
	Status     UnitStatus
	Result     string
	Files      []string
	SubTasks   []SubTaskSummary
}

// SubTaskSummary is the per-sub-task line of a squad report.
type SubTaskSummary struct {
	ID          string
	Description string
	Status      UnitStatus
	Executor    string
}
