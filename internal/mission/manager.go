// Package mission implements fan-out/fan-in mission execution: the
// coordinator decomposes an instruction into specialist squads, squads run
// concurrently, and results fan back in to one final report.
package mission

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kaptinlin/jsonrepair"

	"github.com/hivekit/hive/internal/state"
	"github.com/hivekit/hive/pkg/models"
)

// LLM makes one plain completion call with a roster role's bound model.
type LLM interface {
	Complete(ctx context.Context, role models.Role, system, user string) (string, error)
}

// Looper runs a prompt through a role's full agentic tool loop.
type Looper interface {
	Loop(ctx context.Context, role models.Role, prompt string) (string, error)
}

// Notifier posts operator-facing mission updates.
type Notifier interface {
	Notify(text string)
}

// Stopper reports an operator stop signal. Checked between mission phases.
type Stopper interface {
	ShouldStop() bool
}

type nopNotifier struct{}

func (nopNotifier) Notify(string) {}

type nopStopper struct{}

func (nopStopper) ShouldStop() bool { return false }

// minSquads and maxSquads bound a mission's fan-out.
const (
	minSquads = 2
	maxSquads = 4
)

// ManagerConfig wires a mission manager.
type ManagerConfig struct {
	LLM      LLM
	Squads   *SquadRunner
	Store    *state.DB
	Notifier Notifier
	Stopper  Stopper
}

// Manager owns mission lifecycle: planning, parallel squad execution,
// synthesis, and status queries.
type Manager struct {
	llm    LLM
	squads *SquadRunner
	store  *state.DB
	notify Notifier
	halt   Stopper

	mu       sync.Mutex
	missions map[string]*models.Mission
	nextID   int

	now func() time.Time
}

// NewManager builds a manager and restores mission history from the store.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	m := &Manager{
		llm:      cfg.LLM,
		squads:   cfg.Squads,
		store:    cfg.Store,
		notify:   cfg.Notifier,
		halt:     cfg.Stopper,
		missions: make(map[string]*models.Mission),
		nextID:   1,
		now:      time.Now,
	}
	if m.notify == nil {
		m.notify = nopNotifier{}
	}
	if m.halt == nil {
		m.halt = nopStopper{}
	}
	if m.squads != nil {
		// Squad runners write squad and sub-task state while status
		// queries read it; both sides take the manager's lock.
		m.squads.mu = &m.mu
	}
	if m.store != nil {
		if err := m.restore(); err != nil {
			return nil, fmt.Errorf("restore missions: %w", err)
		}
	}
	return m, nil
}

func (m *Manager) restore() error {
	missions, err := m.store.ListMissions(0)
	if err != nil {
		return err
	}
	for _, mission := range missions {
		m.missions[mission.ID] = mission
		var n int
		if _, err := fmt.Sscanf(mission.ID, "MSN-%d", &n); err == nil && n >= m.nextID {
			m.nextID = n + 1
		}
	}
	return nil
}

// squadPlan is the JSON shape the coordinator model returns for one squad.
type squadPlan struct {
	Squads []struct {
		Specialist   string   `json:"specialist"`
		Objective    string   `json:"objective"`
		Context      string   `json:"context"`
		Deliverables []string `json:"deliverables"`
		Priority     int      `json:"priority"`
	} `json:"squads"`
}

// Create decomposes an instruction into squads and registers the mission.
// The mission is planned but not yet running; call Execute next.
func (m *Manager) Create(ctx context.Context, instruction, requester, channelID string) (*models.Mission, error) {
	if strings.TrimSpace(instruction) == "" {
		return nil, fmt.Errorf("mission instruction is empty")
	}

	m.mu.Lock()
	id := fmt.Sprintf("MSN-%04d", m.nextID)
	m.nextID++
	m.mu.Unlock()

	mission := &models.Mission{
		ID:          id,
		Instruction: instruction,
		Requester:   requester,
		ChannelID:   channelID,
		Status:      models.MissionPlanning,
		CreatedAt:   m.now(),
	}
	log.Printf("[mission] [%s] created: %.80s", id, instruction)

	squads, err := m.plan(ctx, mission)
	if err != nil {
		return nil, fmt.Errorf("plan mission %s: %w", id, err)
	}
	mission.Squads = squads

	m.mu.Lock()
	m.missions[id] = mission
	m.persist(mission)
	m.mu.Unlock()
	return mission, nil
}

// plan runs the coordinator decomposition call and validates the squads.
func (m *Manager) plan(ctx context.Context, mission *models.Mission) ([]*models.Squad, error) {
	response, err := m.llm.Complete(ctx, models.RoleCoordinator, decompositionPrompt, mission.Instruction)
	if err != nil {
		return nil, err
	}
	plan, err := decodeSquadPlan(response)
	if err != nil {
		return nil, err
	}

	used := make(map[models.Role]bool)
	var squads []*models.Squad
	for i, ds := range plan.Squads {
		if len(squads) >= maxSquads {
			break
		}
		specialist, ok := pickSpecialist(ds.Specialist, used)
		if !ok {
			log.Printf("[mission] [%s] dropping squad %d: every specialist is taken", mission.ID, i+1)
			continue
		}
		used[specialist] = true
		callsign := models.Callsigns[len(squads)]
		priority := ds.Priority
		if priority <= 0 {
			priority = len(squads) + 1
		}
		squads = append(squads, &models.Squad{
			ID:           "SQD-" + callsign,
			Callsign:     callsign,
			MissionID:    mission.ID,
			Specialist:   specialist,
			Objective:    ds.Objective,
			Context:      ds.Context,
			Deliverables: ds.Deliverables,
			Status:       models.UnitPending,
			Priority:     priority,
		})
	}
	if len(squads) < minSquads {
		return nil, fmt.Errorf("decomposition produced %d squads, need at least %d", len(squads), minSquads)
	}
	log.Printf("[mission] [%s] %d squads formed", mission.ID, len(squads))
	return squads, nil
}

func decodeSquadPlan(response string) (*squadPlan, error) {
	raw := extractJSONObject(response)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in decomposition response")
	}
	var plan squadPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		fixed, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, fmt.Errorf("unparseable decomposition: %w", err)
		}
		if err := json.Unmarshal([]byte(fixed), &plan); err != nil {
			return nil, fmt.Errorf("decomposition invalid after repair: %w", err)
		}
	}
	if len(plan.Squads) == 0 {
		return nil, fmt.Errorf("decomposition has no squads")
	}
	return &plan, nil
}

// pickSpecialist validates a planned specialist. Unknown roles default to
// dev; a duplicate moves to the first unused specialist; when all four are
// taken the squad is dropped.
func pickSpecialist(planned string, used map[models.Role]bool) (models.Role, bool) {
	role := models.Role(planned)
	if !role.IsSpecialist() {
		log.Printf("[mission] invalid specialist %q, defaulting to dev", planned)
		role = models.RoleDev
	}
	if !used[role] {
		return role, true
	}
	for _, alt := range models.Specialists {
		if !used[alt] {
			log.Printf("[mission] specialist %s already leads a squad, reassigning to %s", role, alt)
			return alt, true
		}
	}
	return "", false
}

// Execute runs all squads of a planned mission concurrently and
// synthesizes the final report. Blocks until the mission finishes.
func (m *Manager) Execute(ctx context.Context, missionID string) error {
	m.mu.Lock()
	mission, ok := m.missions[missionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("mission %s not found", missionID)
	}
	if m.halt.ShouldStop() {
		return fmt.Errorf("mission %s not started: stop signal set", missionID)
	}

	start := m.now()
	m.setStatus(mission, models.MissionDispatched)

	briefings := make([]*models.Briefing, len(mission.Squads))
	for i, squad := range mission.Squads {
		briefings[i] = m.brief(mission, squad)
		m.notify.Notify(fmt.Sprintf("[%s/%s] briefing %s: %s (deliverables: %s)",
			mission.ID, squad.ID, squad.Specialist, squad.Objective, joinOr(squad.Deliverables, "none")))
	}

	m.setStatus(mission, models.MissionInProgress)
	log.Printf("[mission] [%s] dispatching %d squads", mission.ID, len(mission.Squads))

	reports := make([]*models.SquadReport, len(mission.Squads))
	g, gctx := errgroup.WithContext(ctx)
	for i, squad := range mission.Squads {
		i, squad := i, squad
		g.Go(func() error {
			// All-settled: the runner records failure inside the report.
			reports[i] = m.squads.Run(gctx, squad, briefings[i])
			return nil
		})
	}
	_ = g.Wait()

	for i, report := range reports {
		squad := mission.Squads[i]
		m.notify.Notify(fmt.Sprintf("[%s/%s] squad report: %s, %d sub-tasks, files: %s",
			mission.ID, squad.ID, report.Status, len(report.SubTasks), joinOr(firstN(report.Files, 3), "none")))
	}

	m.setStatus(mission, models.MissionSynthesizing)
	elapsed := m.now().Sub(start).Round(100 * time.Millisecond)

	report := m.synthesize(ctx, mission, reports, elapsed)
	m.mu.Lock()
	mission.FinalReport = report
	mission.Status = models.MissionCompleted
	mission.CompletedAt = m.now()
	m.persist(mission)
	m.mu.Unlock()

	m.notify.Notify(mission.FinalReport)
	log.Printf("[mission] [%s] completed in %s", mission.ID, elapsed)
	return nil
}

func (m *Manager) brief(mission *models.Mission, squad *models.Squad) *models.Briefing {
	b := &models.Briefing{
		MissionID:    mission.ID,
		SquadID:      squad.ID,
		Callsign:     squad.Callsign,
		Objective:    squad.Objective,
		Context:      squad.Context,
		Deliverables: squad.Deliverables,
	}
	for _, sib := range mission.Squads {
		if sib.ID == squad.ID {
			continue
		}
		b.Siblings = append(b.Siblings, models.SiblingSummary{
			Callsign:   sib.Callsign,
			Specialist: sib.Specialist,
			Objective:  sib.Objective,
		})
	}
	return b
}

// synthesize builds the final report. Small missions get a deterministic
// local report; larger ones get one coordinator LLM call, falling back to
// the deterministic report when that call fails.
func (m *Manager) synthesize(ctx context.Context, mission *models.Mission, reports []*models.SquadReport, elapsed time.Duration) string {
	if len(reports) <= maxSquads {
		return deterministicReport(mission, reports, elapsed)
	}

	var summaries []string
	for _, r := range reports {
		summaries = append(summaries, fmt.Sprintf("Squad %s (%s): %s\nResult: %.500s",
			r.Callsign, r.Specialist, r.Status, r.Result))
	}
	user := fmt.Sprintf("Mission: %s\nElapsed: %s\nSquad reports:\n%s",
		mission.Instruction, elapsed, strings.Join(summaries, "\n\n"))

	report, err := m.llm.Complete(ctx, models.RoleCoordinator, synthesisPrompt, user)
	if err != nil {
		log.Printf("[mission] [%s] synthesis call failed, using local report: %v", mission.ID, err)
		return deterministicReport(mission, reports, elapsed)
	}
	return report
}

func deterministicReport(mission *models.Mission, reports []*models.SquadReport, elapsed time.Duration) string {
	completed := 0
	var lines []string
	for _, r := range reports {
		marker := "FAIL"
		if r.Status == models.UnitCompleted {
			marker = "OK"
			completed++
		}
		line := fmt.Sprintf("  [%s] %s (%s)", marker, r.Callsign, r.Specialist)
		if len(r.Files) > 0 {
			line += ": " + strings.Join(firstN(r.Files, 3), ", ")
		}
		lines = append(lines, line)
	}

	verdict := "All squads completed."
	if completed < len(reports) {
		verdict = fmt.Sprintf("%d squad(s) failed; a retry may be needed.", len(reports)-completed)
	}
	return fmt.Sprintf("[mission complete] %s\nElapsed: %s | squads: %d/%d completed\n%s\nMission: %s\n%s",
		mission.ID, elapsed, completed, len(reports), strings.Join(lines, "\n"), mission.Instruction, verdict)
}

func (m *Manager) setStatus(mission *models.Mission, status models.MissionStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mission.Status = status
	m.persist(mission)
}

// snapshot deep-copies a mission so callers can read it while squads are
// still mutating the live one. Callers hold m.mu.
func snapshot(mission *models.Mission) *models.Mission {
	out := *mission
	out.Squads = make([]*models.Squad, len(mission.Squads))
	for i, squad := range mission.Squads {
		s := *squad
		s.Deliverables = append([]string(nil), squad.Deliverables...)
		s.SubTasks = make([]*models.SubTask, len(squad.SubTasks))
		for j, st := range squad.SubTasks {
			c := *st
			s.SubTasks[j] = &c
		}
		out.Squads[i] = &s
	}
	return &out
}

// Get returns a point-in-time copy of a mission by id.
func (m *Manager) Get(id string) (*models.Mission, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mission, ok := m.missions[id]
	if !ok {
		return nil, false
	}
	return snapshot(mission), true
}

// List returns point-in-time copies of all known missions, newest first.
func (m *Manager) List() []*models.Mission {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Mission, 0, len(m.missions))
	for _, mission := range m.missions {
		out = append(out, snapshot(mission))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Status renders a text board for one mission, or all missions when id is
// empty.
func (m *Manager) Status(id string) string {
	if id != "" {
		mission, ok := m.Get(id)
		if !ok {
			return fmt.Sprintf("mission %s not found", id)
		}
		return formatMission(mission)
	}

	missions := m.List()
	if len(missions) == 0 {
		return "No missions. Start one with: hive mission start <instruction>"
	}
	var parts []string
	for _, mission := range missions {
		parts = append(parts, formatMission(mission))
	}
	return strings.Join(parts, "\n\n")
}

// SquadDetail renders the per-squad and per-sub-task breakdown of one
// mission.
func (m *Manager) SquadDetail(id string) string {
	mission, ok := m.Get(id)
	if !ok {
		return fmt.Sprintf("mission %s not found", id)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Squad detail for %s\nMission: %s\n\n", mission.ID, mission.Instruction)
	for _, squad := range mission.Squads {
		fmt.Fprintf(&b, "%s (%s) [%s]\n  objective: %s\n", squad.ID, squad.Specialist, squad.Status, squad.Objective)
		for _, st := range squad.SubTasks {
			fmt.Fprintf(&b, "  [%s] %s (%s): %.60s\n", st.Status, st.ID, st.Executor, st.Description)
		}
		if !squad.StartedAt.IsZero() && !squad.CompletedAt.IsZero() {
			fmt.Fprintf(&b, "  elapsed: %s\n", squad.CompletedAt.Sub(squad.StartedAt).Round(100*time.Millisecond))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatMission(mission *models.Mission) string {
	completed := 0
	var squadLines []string
	for _, s := range mission.Squads {
		if s.Status == models.UnitCompleted {
			completed++
		}
		squadLines = append(squadLines, fmt.Sprintf("  [%s] %s (%s): %.50s", s.Status, s.Callsign, s.Specialist, s.Objective))
	}
	return fmt.Sprintf("%s: %.60s\n  status: %s | squads: %d/%d\n%s",
		mission.ID, mission.Instruction, mission.Status, completed, len(mission.Squads), strings.Join(squadLines, "\n"))
}

func (m *Manager) persist(mission *models.Mission) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveMission(mission); err != nil {
		log.Printf("[mission] [%s] persist failed: %v", mission.ID, err)
	}
}

func joinOr(parts []string, empty string) string {
	if len(parts) == 0 {
		return empty
	}
	return strings.Join(parts, ", ")
}

func firstN(parts []string, n int) []string {
	if len(parts) <= n {
		return parts
	}
	return parts[:n]
}
