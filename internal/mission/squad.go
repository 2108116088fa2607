package mission

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kaptinlin/jsonrepair"

	"github.com/hivekit/hive/internal/exec"
	"github.com/hivekit/hive/pkg/models"
)

// maxSubTasks bounds how many sub-tasks one squad may run.
const maxSubTasks = 4

// subTaskSummaryCap bounds each sub-task result inside the squad report.
const subTaskSummaryCap = 2000

// SquadRunner executes one squad: decompose the objective into sub-tasks,
// run them in parallel, assemble the squad report. A sub-task failure is
// recorded, not propagated; the squad fails only when no sub-task
// completes.
type SquadRunner struct {
	llm      LLM
	looper   Looper
	backends *Backends
	now      func() time.Time

	// mu serializes squad and sub-task field writes against concurrent
	// status reads. The manager shares its own lock here so its queries
	// see consistent state while squads run.
	mu sync.Locker
}

// NewSquadRunner wires a squad runner.
func NewSquadRunner(llm LLM, looper Looper, backends *Backends) *SquadRunner {
	return &SquadRunner{llm: llm, looper: looper, backends: backends, now: time.Now, mu: new(sync.Mutex)}
}

// Run executes the squad end to end and always returns a report. The
// squad and its sub-tasks are mutated in place with statuses and results.
func (r *SquadRunner) Run(ctx context.Context, squad *models.Squad, briefing *models.Briefing) *models.SquadReport {
	log.Printf("[mission] [%s] squad %s starting: %.80s", squad.Callsign, squad.Specialist, squad.Objective)
	r.mu.Lock()
	squad.Status = models.UnitInProgress
	squad.StartedAt = r.now()
	r.mu.Unlock()

	tasks := r.planSubTasks(ctx, squad, briefing)
	r.mu.Lock()
	squad.SubTasks = tasks
	r.mu.Unlock()

	r.runSubTasks(ctx, squad)
	result := assembleResult(squad)

	completed := 0
	for _, st := range squad.SubTasks {
		if st.Status == models.UnitCompleted {
			completed++
			continue
		}
		log.Printf("[mission] [%s] sub-task %s failed", squad.Callsign, st.ID)
	}
	// Partial failure still completes the squad and the report says which
	// sub-tasks died. A squad that produced nothing at all has failed.
	status := models.UnitCompleted
	if completed == 0 {
		status = models.UnitFailed
	}
	r.mu.Lock()
	squad.Status = status
	squad.Result = result
	squad.CompletedAt = r.now()
	r.mu.Unlock()
	log.Printf("[mission] [%s] squad done in %s", squad.Callsign, squad.CompletedAt.Sub(squad.StartedAt).Round(time.Second))

	return &models.SquadReport{
		MissionID:  briefing.MissionID,
		SquadID:    squad.ID,
		Callsign:   squad.Callsign,
		Specialist: squad.Specialist,
		Status:     squad.Status,
		Result:     result,
		Files:      extractFilePaths(result),
		SubTasks:   subTaskSummaries(squad),
	}
}

// subTaskPlan is the JSON shape the specialist model returns.
type subTaskPlan struct {
	SubTasks []struct {
		Description string `json:"description"`
		Executor    string `json:"executor"`
	} `json:"subTasks"`
}

// planSubTasks asks the squad's specialist model to decompose its
// objective. A failed plan degrades to a single self-executed sub-task
// carrying the whole objective.
func (r *SquadRunner) planSubTasks(ctx context.Context, squad *models.Squad, briefing *models.Briefing) []*models.SubTask {
	system := subTaskPrompt + "\n\n" + briefingContext(squad, briefing, r.backends.Available())

	response, err := r.llm.Complete(ctx, squad.Specialist, system, squad.Objective)
	if err == nil {
		if tasks := r.parsePlan(squad, response); len(tasks) > 0 {
			return tasks
		}
	} else {
		log.Printf("[mission] [%s] sub-task planning failed, running as one task: %v", squad.Callsign, err)
	}
	return []*models.SubTask{{
		ID:          "SUB-001",
		SquadID:     squad.ID,
		Description: squad.Objective,
		Executor:    models.ExecutorSelf,
		Status:      models.UnitPending,
	}}
}

func (r *SquadRunner) parsePlan(squad *models.Squad, response string) []*models.SubTask {
	plan, err := decodePlan(response)
	if err != nil {
		log.Printf("[mission] [%s] bad sub-task plan: %v", squad.Callsign, err)
		return nil
	}
	n := len(plan.SubTasks)
	if n > maxSubTasks {
		n = maxSubTasks
	}
	tasks := make([]*models.SubTask, 0, n)
	for i := 0; i < n; i++ {
		st := plan.SubTasks[i]
		if strings.TrimSpace(st.Description) == "" {
			continue
		}
		tasks = append(tasks, &models.SubTask{
			ID:          fmt.Sprintf("SUB-%03d", len(tasks)+1),
			SquadID:     squad.ID,
			Description: st.Description,
			Executor:    r.validExecutor(st.Executor),
			Status:      models.UnitPending,
		})
	}
	return tasks
}

// decodePlan pulls the subTasks JSON object out of a model response,
// repairing it when the JSON is damaged.
func decodePlan(response string) (*subTaskPlan, error) {
	raw := extractJSONObject(response)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}
	var plan subTaskPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		fixed, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, fmt.Errorf("unparseable plan: %w", err)
		}
		if err := json.Unmarshal([]byte(fixed), &plan); err != nil {
			return nil, fmt.Errorf("plan invalid after repair: %w", err)
		}
	}
	if len(plan.SubTasks) == 0 {
		return nil, fmt.Errorf("plan has no sub-tasks")
	}
	return &plan, nil
}

// validExecutor keeps only "self" or a known backend id; anything else,
// including a backend that failed its probe, degrades to self.
func (r *SquadRunner) validExecutor(executor string) string {
	if executor == models.ExecutorSelf {
		return models.ExecutorSelf
	}
	if r.backends.Valid(executor) {
		return executor
	}
	return models.ExecutorSelf
}

// runSubTasks fans the squad's sub-tasks out in parallel. Every goroutine
// records its own failure and returns nil, so siblings always finish.
func (r *SquadRunner) runSubTasks(ctx context.Context, squad *models.Squad) {
	g, gctx := errgroup.WithContext(ctx)
	for _, st := range squad.SubTasks {
		st := st
		g.Go(func() error {
			r.mu.Lock()
			st.Status = models.UnitInProgress
			st.StartedAt = r.now()
			r.mu.Unlock()

			result, err := r.runSubTask(gctx, squad, st)

			r.mu.Lock()
			defer r.mu.Unlock()
			st.CompletedAt = r.now()
			if err != nil {
				st.Status = models.UnitFailed
				st.Result = fmt.Sprintf("error: %v", err)
				return nil
			}
			st.Status = models.UnitCompleted
			st.Result = result
			return nil
		})
	}
	_ = g.Wait()
}

// runSubTask executes one sub-task. Backend failure of any kind earns one
// retry through the specialist's own loop.
func (r *SquadRunner) runSubTask(ctx context.Context, squad *models.Squad, st *models.SubTask) (string, error) {
	if st.Executor == models.ExecutorSelf {
		return r.runSelf(ctx, squad, st, "")
	}
	result, err := r.backends.Execute(ctx, st.Executor, st.Description)
	if err != nil {
		log.Printf("[mission] [%s/%s] backend %s failed, retrying as self: %v", squad.Callsign, st.ID, st.Executor, err)
		r.mu.Lock()
		st.Executor = models.ExecutorSelf
		r.mu.Unlock()
		return r.runSelf(ctx, squad, st, "The external backend failed; handle this yourself. ")
	}
	return result, nil
}

func (r *SquadRunner) runSelf(ctx context.Context, squad *models.Squad, st *models.SubTask, prefix string) (string, error) {
	prompt := fmt.Sprintf("[SQUAD %s / %s]\nSquad objective: %s\nSub-task: %s\n%sSave your deliverable with write_file.",
		squad.Callsign, st.ID, squad.Objective, st.Description, prefix)
	return r.looper.Loop(ctx, squad.Specialist, prompt)
}

// briefingContext renders the squad briefing for the planning prompt.
func briefingContext(squad *models.Squad, briefing *models.Briefing, backends []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Objective: %s\n", squad.Objective)
	if squad.Context != "" {
		fmt.Fprintf(&b, "Context: %s\n", squad.Context)
	}
	if len(squad.Deliverables) > 0 {
		fmt.Fprintf(&b, "Deliverables: %s\n", strings.Join(squad.Deliverables, ", "))
	}
	for _, sib := range briefing.Siblings {
		fmt.Fprintf(&b, "Sibling squad %s (%s): %s\n", sib.Callsign, sib.Specialist, sib.Objective)
	}
	if len(backends) > 0 {
		fmt.Fprintf(&b, "Available external backends: %s\n", strings.Join(backends, ", "))
	} else {
		b.WriteString("Available external backends: none\n")
	}
	return b.String()
}

// assembleResult builds the squad result text from its sub-task outcomes.
func assembleResult(squad *models.Squad) string {
	completed := 0
	var parts []string
	for _, st := range squad.SubTasks {
		marker := "FAIL"
		if st.Status == models.UnitCompleted {
			marker = "OK"
			completed++
		}
		parts = append(parts, fmt.Sprintf("[%s] %s (%s): %s\n%s",
			marker, st.ID, st.Executor, st.Description,
			exec.Truncate(st.Result, subTaskSummaryCap)))
	}
	return fmt.Sprintf("[squad %s result]\nObjective: %s\nSub-tasks: %d/%d completed\n\n%s",
		squad.Callsign, squad.Objective, completed, len(squad.SubTasks), strings.Join(parts, "\n\n"))
}

func subTaskSummaries(squad *models.Squad) []models.SubTaskSummary {
	out := make([]models.SubTaskSummary, 0, len(squad.SubTasks))
	for _, st := range squad.SubTasks {
		out = append(out, models.SubTaskSummary{
			ID:          st.ID,
			Description: st.Description,
			Status:      st.Status,
			Executor:    st.Executor,
		})
	}
	return out
}

var writtenFileRe = regexp.MustCompile(`wrote \d+ bytes to (\S+)`)
var workspacePathRe = regexp.MustCompile(`workspace[\\/][^\s)]+`)

// extractFilePaths pulls deliverable paths out of a squad result.
func extractFilePaths(text string) []string {
	var paths []string
	seen := make(map[string]bool)
	for _, m := range writtenFileRe.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			paths = append(paths, m[1])
		}
	}
	for _, m := range workspacePathRe.FindAllString(text, -1) {
		if !seen[m] {
			seen[m] = true
			paths = append(paths, m)
		}
	}
	return paths
}

// extractJSONObject returns the outermost {...} block of a response.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
