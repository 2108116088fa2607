package mission

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hivekit/hive/internal/state"
	"github.com/hivekit/hive/pkg/models"
)

// fakeLLM returns canned responses keyed by a substring of the system
// prompt.
type fakeLLM struct {
	mu        sync.Mutex
	responses map[string]string
	err       error
	calls     int
}

func (f *fakeLLM) Complete(_ context.Context, _ models.Role, system, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	for key, resp := range f.responses {
		if strings.Contains(system, key) {
			return resp, nil
		}
	}
	return "", fmt.Errorf("no canned response for prompt")
}

// fakeLooper records loop prompts and returns a fixed result.
type fakeLooper struct {
	mu      sync.Mutex
	prompts []string
	result  string
	err     error
}

func (f *fakeLooper) Loop(_ context.Context, _ models.Role, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

// fakeRunner fakes the command runner used by backends.
type fakeRunner struct {
	mu        sync.Mutex
	installed map[string]bool
	output    string
	runErr    error
	commands  [][]string
}

func (f *fakeRunner) Run(_ context.Context, _ string, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, append([]string{name}, args...))
	if len(args) > 0 && (args[0] == "--version" || args[0] == "--help") {
		if f.installed[name] {
			return []byte("1.0.0"), nil
		}
		return nil, errors.New("command not found")
	}
	if f.runErr != nil {
		return nil, f.runErr
	}
	return []byte(f.output), nil
}

func (f *fakeRunner) RunInput(ctx context.Context, dir, input, name string, args ...string) ([]byte, error) {
	return f.Run(ctx, dir, name, args...)
}

func (f *fakeRunner) RunShell(ctx context.Context, dir, command string) ([]byte, error) {
	return f.Run(ctx, dir, "sh", "-c", command)
}

func (f *fakeRunner) LookPath(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installed[name]
}

const twoSquadPlan = `{"squads": [
	{"specialist": "dev", "objective": "build the API", "context": "REST", "deliverables": ["api.md"], "priority": 1},
	{"specialist": "design", "objective": "design the UI", "deliverables": ["ui.md"], "priority": 2}
]}`

func newTestManager(t *testing.T, llm *fakeLLM, looper Looper, backends *Backends) *Manager {
	t.Helper()
	if backends == nil {
		backends = NewBackends(&fakeRunner{installed: map[string]bool{}}, nil)
	}
	m, err := NewManager(ManagerConfig{
		LLM:    llm,
		Squads: NewSquadRunner(llm, looper, backends),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestCreate_FormsSquadsFromPlan(t *testing.T) {
	llm := &fakeLLM{responses: map[string]string{"mission planner": twoSquadPlan}}
	m := newTestManager(t, llm, &fakeLooper{result: "done"}, nil)

	mission, err := m.Create(context.Background(), "ship the product", "alice", "chan-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if mission.ID != "MSN-0001" {
		t.Errorf("id = %s", mission.ID)
	}
	if len(mission.Squads) != 2 {
		t.Fatalf("got %d squads, want 2", len(mission.Squads))
	}
	if mission.Squads[0].Callsign != "ALPHA" || mission.Squads[1].Callsign != "BRAVO" {
		t.Errorf("callsigns = %s, %s", mission.Squads[0].Callsign, mission.Squads[1].Callsign)
	}
	if mission.Squads[0].Specialist != models.RoleDev {
		t.Errorf("squad 1 specialist = %s", mission.Squads[0].Specialist)
	}

	second, err := m.Create(context.Background(), "another", "alice", "chan-1")
	if err != nil {
		t.Fatalf("Create second: %v", err)
	}
	if second.ID != "MSN-0002" {
		t.Errorf("second id = %s", second.ID)
	}
}

func TestCreate_InvalidAndDuplicateSpecialists(t *testing.T) {
	plan := `{"squads": [
		{"specialist": "pilot", "objective": "a"},
		{"specialist": "dev", "objective": "b"},
		{"specialist": "dev", "objective": "c"},
		{"specialist": "dev", "objective": "d"},
		{"specialist": "dev", "objective": "e"}
	]}`
	llm := &fakeLLM{responses: map[string]string{"mission planner": plan}}
	m := newTestManager(t, llm, &fakeLooper{result: "done"}, nil)

	mission, err := m.Create(context.Background(), "big", "bob", "c")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// "pilot" defaults to dev; the remaining dev squads spill onto unused
	// specialists; the fifth squad is dropped.
	if len(mission.Squads) != 4 {
		t.Fatalf("got %d squads, want 4", len(mission.Squads))
	}
	seen := make(map[models.Role]bool)
	for _, s := range mission.Squads {
		if seen[s.Specialist] {
			t.Errorf("specialist %s leads two squads", s.Specialist)
		}
		seen[s.Specialist] = true
	}
	if mission.Squads[0].Specialist != models.RoleDev {
		t.Errorf("invalid specialist should default to dev, got %s", mission.Squads[0].Specialist)
	}
}

func TestCreate_TooFewSquadsFails(t *testing.T) {
	llm := &fakeLLM{responses: map[string]string{
		"mission planner": `{"squads": [{"specialist": "dev", "objective": "solo"}]}`,
	}}
	m := newTestManager(t, llm, &fakeLooper{result: "done"}, nil)

	if _, err := m.Create(context.Background(), "tiny", "bob", "c"); err == nil {
		t.Error("single-squad plan should fail")
	}
}

func TestCreate_RepairsDamagedPlanJSON(t *testing.T) {
	broken := `Here is the plan: {"squads": [
		{"specialist": "dev", "objective": "build", "priority": 1,},
		{"specialist": "design", "objective": "draw", "priority": 2,},
	]}`
	llm := &fakeLLM{responses: map[string]string{"mission planner": broken}}
	m := newTestManager(t, llm, &fakeLooper{result: "done"}, nil)

	mission, err := m.Create(context.Background(), "x", "bob", "c")
	if err != nil {
		t.Fatalf("Create with trailing commas: %v", err)
	}
	if len(mission.Squads) != 2 {
		t.Errorf("got %d squads", len(mission.Squads))
	}
}

func TestExecute_FanInToleratesSubTaskFailure(t *testing.T) {
	llm := &fakeLLM{responses: map[string]string{
		"mission planner": twoSquadPlan,
		"squad leader":    `{"subTasks": [{"description": "do the work", "executor": "self"}]}`,
	}}
	looper := &fakeLooper{err: errors.New("loop blew up")}
	m := newTestManager(t, llm, looper, nil)

	mission, err := m.Create(context.Background(), "ship", "alice", "c")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Execute(context.Background(), mission.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if mission.Status != models.MissionCompleted {
		t.Errorf("status = %s, want completed", mission.Status)
	}
	if mission.CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}
	for _, squad := range mission.Squads {
		if len(squad.SubTasks) != 1 {
			t.Fatalf("squad %s has %d sub-tasks", squad.Callsign, len(squad.SubTasks))
		}
		if squad.SubTasks[0].Status != models.UnitFailed {
			t.Errorf("sub-task status = %s, want failed", squad.SubTasks[0].Status)
		}
		if !strings.Contains(squad.SubTasks[0].Result, "loop blew up") {
			t.Errorf("sub-task result = %q", squad.SubTasks[0].Result)
		}
	}
	for _, squad := range mission.Squads {
		if squad.Status != models.UnitFailed {
			t.Errorf("squad %s status = %s, want failed", squad.Callsign, squad.Status)
		}
	}
	if !strings.Contains(mission.Squads[0].Result, "0/1 completed") {
		t.Errorf("squad result missing failure count:\n%s", mission.Squads[0].Result)
	}
	if !strings.Contains(mission.FinalReport, "mission complete") {
		t.Errorf("final report = %q", mission.FinalReport)
	}
	if !strings.Contains(mission.FinalReport, "2 squad(s) failed") {
		t.Errorf("final report missing failure verdict:\n%s", mission.FinalReport)
	}
}

// roleLooper fails every loop for one specialist and succeeds for the
// rest.
type roleLooper struct {
	failFor models.Role
	result  string
}

func (f *roleLooper) Loop(_ context.Context, role models.Role, _ string) (string, error) {
	if role == f.failFor {
		return "", errors.New("specialist loop crashed")
	}
	return f.result, nil
}

func TestExecute_FailedSquadShowsInFinalReport(t *testing.T) {
	llm := &fakeLLM{responses: map[string]string{
		"mission planner": twoSquadPlan,
		"squad leader":    `{"subTasks": [{"description": "do the work", "executor": "self"}]}`,
	}}
	looper := &roleLooper{failFor: models.RoleDesign, result: "done"}
	m := newTestManager(t, llm, looper, nil)

	mission, err := m.Create(context.Background(), "ship", "alice", "c")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Execute(context.Background(), mission.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if mission.Squads[0].Status != models.UnitCompleted {
		t.Errorf("dev squad status = %s, want completed", mission.Squads[0].Status)
	}
	if mission.Squads[1].Status != models.UnitFailed {
		t.Errorf("design squad status = %s, want failed", mission.Squads[1].Status)
	}
	for _, want := range []string{"[OK] ALPHA", "[FAIL] BRAVO", "1/2 completed", "1 squad(s) failed"} {
		if !strings.Contains(mission.FinalReport, want) {
			t.Errorf("final report missing %q:\n%s", want, mission.FinalReport)
		}
	}
}

func TestExecute_StatusQueriesDuringRun(t *testing.T) {
	llm := &fakeLLM{responses: map[string]string{
		"mission planner": twoSquadPlan,
		"squad leader":    `{"subTasks": [{"description": "work", "executor": "self"}]}`,
	}}
	m := newTestManager(t, llm, &fakeLooper{result: "done"}, nil)

	mission, err := m.Create(context.Background(), "ship", "alice", "c")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := m.Execute(context.Background(), mission.ID); err != nil {
			t.Errorf("Execute: %v", err)
		}
	}()
	// Hammer the status queries while squads run; the race detector
	// verifies the reads are serialized against squad writes.
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
			_ = m.Status(mission.ID)
			_ = m.SquadDetail(mission.ID)
			_ = m.List()
		}
	}

	got, ok := m.Get(mission.ID)
	if !ok || got.Status != models.MissionCompleted {
		t.Errorf("mission status = %s, want completed", got.Status)
	}
}

func TestGet_ReturnsIndependentCopy(t *testing.T) {
	llm := &fakeLLM{responses: map[string]string{
		"mission planner": twoSquadPlan,
		"squad leader":    `{"subTasks": [{"description": "work", "executor": "self"}]}`,
	}}
	m := newTestManager(t, llm, &fakeLooper{result: "done"}, nil)

	mission, err := m.Create(context.Background(), "ship", "alice", "c")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Execute(context.Background(), mission.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, ok := m.Get(mission.ID)
	if !ok {
		t.Fatal("mission missing")
	}
	got.Status = models.MissionPlanning
	got.Squads[0].Objective = "tampered"
	got.Squads[0].SubTasks[0].Result = "tampered"

	again, _ := m.Get(mission.ID)
	if again.Status != models.MissionCompleted {
		t.Errorf("status = %s after tampering with a copy", again.Status)
	}
	if again.Squads[0].Objective == "tampered" || again.Squads[0].SubTasks[0].Result == "tampered" {
		t.Error("Get returned live mission state")
	}
}

func TestExecute_UnknownMissionFails(t *testing.T) {
	llm := &fakeLLM{responses: map[string]string{"mission planner": twoSquadPlan}}
	m := newTestManager(t, llm, &fakeLooper{result: "done"}, nil)
	if err := m.Execute(context.Background(), "MSN-9999"); err == nil {
		t.Error("unknown mission should fail")
	}
}

func TestSquadRunner_BackendFailureRetriesAsSelf(t *testing.T) {
	runner := &fakeRunner{installed: map[string]bool{"gemini": true}, runErr: errors.New("backend crashed")}
	backends := NewBackends(runner, nil)
	backends.Probe(context.Background())

	llm := &fakeLLM{responses: map[string]string{
		"squad leader": `{"subTasks": [{"description": "research the market", "executor": "gemini-cli"}]}`,
	}}
	looper := &fakeLooper{result: "research done, wrote 120 bytes to workspace/growth/report.md"}
	r := NewSquadRunner(llm, looper, backends)

	squad := &models.Squad{ID: "SQD-ALPHA", Callsign: "ALPHA", Specialist: models.RoleGrowth, Objective: "research"}
	report := r.Run(context.Background(), squad, &models.Briefing{MissionID: "MSN-0001", SquadID: squad.ID})

	if report.Status != models.UnitCompleted {
		t.Fatalf("report status = %s", report.Status)
	}
	st := squad.SubTasks[0]
	if st.Executor != models.ExecutorSelf {
		t.Errorf("executor = %s, want self after backend failure", st.Executor)
	}
	if st.Status != models.UnitCompleted {
		t.Errorf("sub-task status = %s", st.Status)
	}
	if len(looper.prompts) != 1 {
		t.Fatalf("looper ran %d times, want 1", len(looper.prompts))
	}
	if !strings.Contains(looper.prompts[0], "backend failed") {
		t.Errorf("retry prompt missing failure note: %q", looper.prompts[0])
	}
	if len(report.Files) == 0 || report.Files[0] != "workspace/growth/report.md" {
		t.Errorf("files = %v", report.Files)
	}
}

func TestSquadRunner_UnprobedBackendDegradesToSelf(t *testing.T) {
	backends := NewBackends(&fakeRunner{installed: map[string]bool{}}, nil)
	backends.Probe(context.Background())

	llm := &fakeLLM{responses: map[string]string{
		"squad leader": `{"subTasks": [
			{"description": "write code", "executor": "chatgpt"},
			{"description": "made-up executor", "executor": "quantum"}
		]}`,
	}}
	looper := &fakeLooper{result: "done"}
	r := NewSquadRunner(llm, looper, backends)

	squad := &models.Squad{ID: "SQD-ALPHA", Callsign: "ALPHA", Specialist: models.RoleDev, Objective: "build"}
	r.Run(context.Background(), squad, &models.Briefing{})

	// chatgpt is a valid executor that fails its availability check at run
	// time and retries as self; "quantum" is rejected at plan time.
	if squad.SubTasks[0].Executor != models.ExecutorSelf {
		t.Errorf("sub-task 1 executor = %s", squad.SubTasks[0].Executor)
	}
	if squad.SubTasks[1].Executor != models.ExecutorSelf {
		t.Errorf("sub-task 2 executor = %s", squad.SubTasks[1].Executor)
	}
	if len(looper.prompts) != 2 {
		t.Errorf("looper ran %d times, want 2", len(looper.prompts))
	}
}

func TestSquadRunner_PlanFailureRunsWholeObjective(t *testing.T) {
	llm := &fakeLLM{err: errors.New("provider down")}
	looper := &fakeLooper{result: "handled it"}
	backends := NewBackends(&fakeRunner{installed: map[string]bool{}}, nil)
	r := NewSquadRunner(llm, looper, backends)

	squad := &models.Squad{ID: "SQD-ALPHA", Callsign: "ALPHA", Specialist: models.RoleDev, Objective: "the whole thing"}
	report := r.Run(context.Background(), squad, &models.Briefing{})

	if len(squad.SubTasks) != 1 {
		t.Fatalf("got %d sub-tasks, want 1", len(squad.SubTasks))
	}
	if squad.SubTasks[0].Description != "the whole thing" {
		t.Errorf("fallback sub-task = %q", squad.SubTasks[0].Description)
	}
	if report.Status != models.UnitCompleted {
		t.Errorf("report status = %s", report.Status)
	}
}

func TestSquadRunner_CapsSubTasks(t *testing.T) {
	var entries []string
	for i := 0; i < 6; i++ {
		entries = append(entries, fmt.Sprintf(`{"description": "task %d", "executor": "self"}`, i))
	}
	llm := &fakeLLM{responses: map[string]string{
		"squad leader": `{"subTasks": [` + strings.Join(entries, ",") + `]}`,
	}}
	looper := &fakeLooper{result: "done"}
	backends := NewBackends(&fakeRunner{installed: map[string]bool{}}, nil)
	r := NewSquadRunner(llm, looper, backends)

	squad := &models.Squad{ID: "SQD-ALPHA", Callsign: "ALPHA", Specialist: models.RoleDev, Objective: "много"}
	r.Run(context.Background(), squad, &models.Briefing{})
	if len(squad.SubTasks) != maxSubTasks {
		t.Errorf("got %d sub-tasks, want %d", len(squad.SubTasks), maxSubTasks)
	}
}

func TestAssembleResult_TruncatesLongSubTaskOutput(t *testing.T) {
	squad := &models.Squad{
		Callsign:  "ALPHA",
		Objective: "obj",
		SubTasks: []*models.SubTask{{
			ID: "SUB-001", Executor: models.ExecutorSelf,
			Status: models.UnitCompleted, Description: "big",
			Result: strings.Repeat("x", subTaskSummaryCap+500),
		}},
	}
	result := assembleResult(squad)
	if !strings.Contains(result, "output truncated") {
		t.Error("long sub-task result not truncated")
	}
	if !strings.Contains(result, "1/1 completed") {
		t.Errorf("result = %.200s", result)
	}
}

func TestBackends_ProbeFallsBackToHelp(t *testing.T) {
	// A CLI whose --version fails but --help succeeds.
	runner := &helpOnlyRunner{}
	b := NewBackends(runner, map[string]time.Duration{"chatgpt": time.Second})
	b.Probe(context.Background())

	if !b.IsAvailable("chatgpt") {
		t.Error("chatgpt should be available via --help")
	}
	out, err := b.Execute(context.Background(), "chatgpt", "generate code")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "generated" {
		t.Errorf("out = %q", out)
	}
}

type helpOnlyRunner struct{ fakeRunner }

func (h *helpOnlyRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	if len(args) > 0 {
		switch args[0] {
		case "--version":
			return nil, errors.New("unknown flag")
		case "--help":
			return []byte("usage"), nil
		}
	}
	return []byte("generated"), nil
}

func TestManager_RestoresCounterFromStore(t *testing.T) {
	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := db.SaveMission(&models.Mission{
		ID: "MSN-0007", Instruction: "old", Status: models.MissionCompleted, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("SaveMission: %v", err)
	}

	llm := &fakeLLM{responses: map[string]string{"mission planner": twoSquadPlan}}
	backends := NewBackends(&fakeRunner{installed: map[string]bool{}}, nil)
	m, err := NewManager(ManagerConfig{
		LLM:    llm,
		Squads: NewSquadRunner(llm, &fakeLooper{result: "done"}, backends),
		Store:  db,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, ok := m.Get("MSN-0007"); !ok {
		t.Error("restored mission missing")
	}
	mission, err := m.Create(context.Background(), "new work", "alice", "c")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if mission.ID != "MSN-0008" {
		t.Errorf("id = %s, want MSN-0008", mission.ID)
	}
}

func TestManagerStatus_FormatsBoards(t *testing.T) {
	llm := &fakeLLM{responses: map[string]string{
		"mission planner": twoSquadPlan,
		"squad leader":    `{"subTasks": [{"description": "work", "executor": "self"}]}`,
	}}
	m := newTestManager(t, llm, &fakeLooper{result: "done"}, nil)

	if got := m.Status(""); !strings.Contains(got, "No missions") {
		t.Errorf("empty board = %q", got)
	}

	mission, err := m.Create(context.Background(), "ship it", "alice", "c")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Execute(context.Background(), mission.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	board := m.Status(mission.ID)
	for _, want := range []string{"MSN-0001", "2/2", "ALPHA", "BRAVO"} {
		if !strings.Contains(board, want) {
			t.Errorf("board missing %q:\n%s", want, board)
		}
	}

	detail := m.SquadDetail(mission.ID)
	for _, want := range []string{"SQD-ALPHA", "SUB-001", "self"} {
		if !strings.Contains(detail, want) {
			t.Errorf("detail missing %q:\n%s", want, detail)
		}
	}

	if got := m.SquadDetail("MSN-0042"); !strings.Contains(got, "not found") {
		t.Errorf("missing mission detail = %q", got)
	}
}
