package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hivekit/hive/pkg/models"
)

type staticSource struct {
	mission *models.Mission
}

func (s *staticSource) Get(id string) (*models.Mission, bool) {
	if s.mission != nil && s.mission.ID == id {
		return s.mission, true
	}
	return nil, false
}

func testMission() *models.Mission {
	return &models.Mission{
		ID:          "MSN-0001",
		Instruction: "ship the onboarding flow",
		Status:      models.MissionInProgress,
		Squads: []*models.Squad{
			{
				Callsign: "ALPHA", Specialist: models.RoleDev,
				Objective: "build the signup API", Status: models.UnitCompleted,
				SubTasks: []*models.SubTask{
					{ID: "SUB-001", Executor: models.ExecutorSelf, Description: "write handlers", Status: models.UnitCompleted},
				},
			},
			{
				Callsign: "BRAVO", Specialist: models.RoleDesign,
				Objective: "design the welcome screen", Status: models.UnitInProgress,
			},
		},
	}
}

func TestBoardView_ShowsSquadsAndCounts(t *testing.T) {
	b := NewBoard(&staticSource{mission: testMission()}, "MSN-0001", time.Millisecond)
	view := b.View()

	for _, want := range []string{"MSN-0001", "ALPHA", "BRAVO", "1/2", "SUB-001", "q: quit"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestBoardView_MissingMission(t *testing.T) {
	b := NewBoard(&staticSource{}, "MSN-0009", time.Millisecond)
	if got := b.View(); !strings.Contains(got, "not found") {
		t.Errorf("view = %q", got)
	}
}

func TestBoardUpdate_QuitKey(t *testing.T) {
	b := NewBoard(&staticSource{mission: testMission()}, "MSN-0001", time.Millisecond)
	model, cmd := b.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("quit key returned no command")
	}
	if msg := cmd(); msg != tea.Quit() {
		t.Errorf("expected tea.Quit, got %T", msg)
	}
	if view := model.View(); view != "" {
		t.Errorf("quitting view = %q, want empty", view)
	}
}

func TestBoardUpdate_StopsPollingWhenTerminal(t *testing.T) {
	mission := testMission()
	mission.Status = models.MissionCompleted
	mission.FinalReport = "[mission complete] MSN-0001"
	b := NewBoard(&staticSource{mission: mission}, "MSN-0001", time.Millisecond)

	_, cmd := b.Update(tickMsg(time.Now()))
	if cmd != nil {
		t.Error("terminal mission should stop scheduling ticks")
	}
	if view := b.View(); !strings.Contains(view, "mission complete") {
		t.Errorf("final report missing:\n%s", view)
	}
}
