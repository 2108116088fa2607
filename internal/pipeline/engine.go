// Package pipeline tracks work items through a fixed stage lifecycle
// with an explicit legal-transition table and immutable history.
package pipeline

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hivekit/hive/internal/state"
	"github.com/hivekit/hive/pkg/models"
)

// stageTransitions is the legal-transition table. Forward moves advance
// the item; backward moves send it back for rework.
var stageTransitions = map[models.Stage][]models.Stage{
	models.StageIntake:    {models.StageTriage, models.StageClosed},
	models.StageTriage:    {models.StageBuild, models.StageClosed},
	models.StageBuild:     {models.StageQA, models.StageTriage},
	models.StageQA:        {models.StageAudit, models.StageBuild},
	models.StageAudit:     {models.StageIntegrate, models.StageBuild},
	models.StageIntegrate: {models.StageRelease, models.StageAudit},
	models.StageRelease:   {models.StageClosed},
	models.StageClosed:    {},
}

// stageDefaultAssignee maps each stage to the role that owns items in it.
var stageDefaultAssignee = map[models.Stage]models.Role{
	models.StageIntake:    models.RoleSupport,
	models.StageTriage:    models.RoleCoordinator,
	models.StageBuild:     models.RoleDev,
	models.StageQA:        models.RoleCoordinator,
	models.StageAudit:     models.RoleCoordinator,
	models.StageIntegrate: models.RoleCoordinator,
	models.StageRelease:   models.RoleCoordinator,
}

// LegalTransitions returns the stages an item may move to from the given stage.
func LegalTransitions(from models.Stage) []models.Stage {
	out := make([]models.Stage, len(stageTransitions[from]))
	copy(out, stageTransitions[from])
	return out
}

// DefaultAssignee returns the owning role for a stage.
// Closed items have no owner.
func DefaultAssignee(stage models.Stage) models.Role {
	return stageDefaultAssignee[stage]
}

// CreateOptions tunes item creation.
type CreateOptions struct {
	Priority models.Priority
	// StartStage lets fast-entry flows skip intake (e.g. straight to build).
	StartStage models.Stage
	Metadata   map[string]string
}

// Engine is the pipeline state machine. Items live in memory; an optional
// store persists items and transitions across restarts.
type Engine struct {
	mu     sync.Mutex
	items  map[string]*models.PipelineItem
	nextID int
	store  *state.DB
	now    func() time.Time
}

// New creates an empty engine. store may be nil for memory-only operation.
func New(store *state.DB) *Engine {
	e := &Engine{
		items:  make(map[string]*models.PipelineItem),
		nextID: 1,
		store:  store,
		now:    time.Now,
	}
	if store != nil {
		e.restore()
	}
	return e
}

// restore loads persisted items so ids and history survive restarts.
func (e *Engine) restore() {
	items, err := e.store.ListPipelineItems("")
	if err != nil {
		log.Printf("[pipeline] restore failed: %v", err)
		return
	}
	for _, it := range items {
		full, err := e.store.GetPipelineItem(it.ID)
		if err != nil {
			continue
		}
		e.items[full.ID] = full
		var n int
		if _, err := fmt.Sscanf(full.ID, "PL-%d", &n); err == nil && n >= e.nextID {
			e.nextID = n + 1
		}
	}
	if len(e.items) > 0 {
		log.Printf("[pipeline] restored %d items", len(e.items))
	}
}

// CreateItem opens a new work item. Creation may start at any valid stage,
// not only intake; the stage's default owner is assigned.
func (e *Engine) CreateItem(title, description string, createdBy models.Role, opts CreateOptions) (*models.PipelineItem, error) {
	stage := opts.StartStage
	if stage == "" {
		stage = models.StageIntake
	}
	if !stage.Valid() {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
	priority := opts.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("unknown priority %q", priority)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	item := &models.PipelineItem{
		ID:          fmt.Sprintf("PL-%04d", e.nextID),
		Title:       title,
		Description: description,
		Stage:       stage,
		Status:      models.ItemActive,
		Priority:    priority,
		Assignee:    stageDefaultAssignee[stage],
		CreatedBy:   createdBy,
		Metadata:    opts.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	e.nextID++
	e.items[item.ID] = item

	e.persist(item)
	log.Printf("[pipeline] created %s %q [%s] -> %s", item.ID, title, stage, item.Assignee)
	return item, nil
}

// Transition moves an item to a new stage. It fails with the list of legal
// next stages when the move is not in the transition table. On success it
// appends an immutable history record, reassigns the stage's default owner,
// and completes the item when it reaches closed.
func (e *Engine) Transition(itemID string, to models.Stage, triggeredBy models.Role, reason string) (*models.PipelineItem, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	item, ok := e.items[itemID]
	if !ok {
		return nil, fmt.Errorf("pipeline item %s not found", itemID)
	}

	allowed := stageTransitions[item.Stage]
	legal := false
	for _, s := range allowed {
		if s == to {
			legal = true
			break
		}
	}
	if !legal {
		return nil, fmt.Errorf("illegal transition %s -> %s for %s (legal: %s)",
			item.Stage, to, itemID, joinStages(allowed))
	}

	tr := models.Transition{
		From:        item.Stage,
		To:          to,
		TriggeredBy: triggeredBy,
		Reason:      reason,
		Timestamp:   e.now(),
	}
	item.History = append(item.History, tr)
	item.Stage = to
	item.Assignee = stageDefaultAssignee[to]
	item.UpdatedAt = tr.Timestamp
	if to == models.StageClosed {
		item.Status = models.ItemCompleted
	}

	e.persist(item)
	if e.store != nil {
		if err := e.store.AppendTransition(item.ID, tr); err != nil {
			log.Printf("[pipeline] persist transition failed: %v", err)
		}
	}
	log.Printf("[pipeline] %s %s -> %s by %s (%s)", itemID, tr.From, to, triggeredBy, reason)
	return item, nil
}

// persist saves an item snapshot. Caller holds the lock.
func (e *Engine) persist(item *models.PipelineItem) {
	if e.store == nil {
		return
	}
	if err := e.store.SavePipelineItem(item); err != nil {
		log.Printf("[pipeline] persist %s failed: %v", item.ID, err)
	}
}

// GetItem returns an item by id.
func (e *Engine) GetItem(itemID string) (*models.PipelineItem, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	item, ok := e.items[itemID]
	return item, ok
}

// ItemsByAssignee returns active items owned by a role.
func (e *Engine) ItemsByAssignee(role models.Role) []*models.PipelineItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*models.PipelineItem
	for _, item := range e.items {
		if item.Assignee == role && item.Status == models.ItemActive {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetPriority changes an item's priority.
func (e *Engine) SetPriority(itemID string, priority models.Priority) error {
	if !priority.Valid() {
		return fmt.Errorf("unknown priority %q", priority)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	item, ok := e.items[itemID]
	if !ok {
		return fmt.Errorf("pipeline item %s not found", itemID)
	}
	item.Priority = priority
	item.UpdatedAt = e.now()
	e.persist(item)
	return nil
}

// SetStatus changes an item's status (pause, block, cancel).
func (e *Engine) SetStatus(itemID string, status models.ItemStatus) error {
	if !status.Valid() {
		return fmt.Errorf("unknown status %q", status)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	item, ok := e.items[itemID]
	if !ok {
		return fmt.Errorf("pipeline item %s not found", itemID)
	}
	item.Status = status
	item.UpdatedAt = e.now()
	e.persist(item)
	return nil
}

// Stats summarizes the pipeline.
type Stats struct {
	Total     int
	Active    int
	Completed int
	ByStage   map[models.Stage]int
}

// GetStats counts items overall and per stage.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Stats{ByStage: make(map[models.Stage]int)}
	for _, item := range e.items {
		s.Total++
		switch item.Status {
		case models.ItemActive:
			s.Active++
		case models.ItemCompleted:
			s.Completed++
		}
		s.ByStage[item.Stage]++
	}
	return s
}

// Status renders a plain-text board of open items grouped by stage,
// plus the most recently completed items.
func (e *Engine) Status() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.items) == 0 {
		return "Pipeline is empty."
	}

	byStage := make(map[models.Stage][]*models.PipelineItem)
	var completed []*models.PipelineItem
	for _, item := range e.items {
		switch item.Status {
		case models.ItemCompleted:
			completed = append(completed, item)
			continue
		case models.ItemCancelled:
			continue
		}
		byStage[item.Stage] = append(byStage[item.Stage], item)
	}

	var b strings.Builder
	b.WriteString("Pipeline status\n")
	for _, stage := range models.Stages {
		if stage == models.StageClosed {
			continue
		}
		items := byStage[stage]
		if len(items) == 0 {
			continue
		}
		sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
		fmt.Fprintf(&b, "\n%s (%d)\n", stage, len(items))
		for _, item := range items {
			fmt.Fprintf(&b, "  [%s] %s: %s (%s)\n", item.Priority, item.ID, item.Title, item.Assignee)
		}
	}

	if len(completed) > 0 {
		sort.Slice(completed, func(i, j int) bool {
			return completed[i].UpdatedAt.After(completed[j].UpdatedAt)
		})
		if len(completed) > 5 {
			completed = completed[:5]
		}
		b.WriteString("\nRecently completed\n")
		for _, item := range completed {
			fmt.Fprintf(&b, "  %s: %s\n", item.ID, item.Title)
		}
	}
	return b.String()
}

// joinStages renders a stage list for error messages.
func joinStages(stages []models.Stage) string {
	if len(stages) == 0 {
		return "none, stage is terminal"
	}
	parts := make([]string, len(stages))
	for i, s := range stages {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}
