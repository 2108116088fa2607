// Package tui renders the live mission board.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hivekit/hive/pkg/models"
)

// Source supplies mission snapshots for rendering.
type Source interface {
	Get(id string) (*models.Mission, bool)
}

// tickMsg drives the poll refresh.
type tickMsg time.Time

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			Bold(true).
			PaddingBottom(1)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#96E6A1"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Board is the bubbletea model showing one mission's squads and
// sub-tasks, refreshed by polling the source.
type Board struct {
	source    Source
	missionID string
	refresh   time.Duration

	spinner  spinner.Model
	width    int
	quitting bool
}

// NewBoard creates a board for one mission.
func NewBoard(source Source, missionID string, refresh time.Duration) *Board {
	if refresh <= 0 {
		refresh = 100 * time.Millisecond
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#45B7D1"))
	return &Board{
		source:    source,
		missionID: missionID,
		refresh:   refresh,
		spinner:   sp,
		width:     80,
	}
}

// Init implements tea.Model.
func (b *Board) Init() tea.Cmd {
	return tea.Batch(b.spinner.Tick, b.tick())
}

func (b *Board) tick() tea.Cmd {
	return tea.Tick(b.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (b *Board) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			b.quitting = true
			return b, tea.Quit
		}
	case tea.WindowSizeMsg:
		b.width = msg.Width
	case tickMsg:
		if mission, ok := b.source.Get(b.missionID); ok && terminal(mission.Status) {
			// One more repaint, then keep the board up until q.
			return b, nil
		}
		return b, b.tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		b.spinner, cmd = b.spinner.Update(msg)
		return b, cmd
	}
	return b, nil
}

func terminal(status models.MissionStatus) bool {
	return status == models.MissionCompleted || status == models.MissionFailed
}

// View implements tea.Model.
func (b *Board) View() string {
	if b.quitting {
		return ""
	}
	mission, ok := b.source.Get(b.missionID)
	if !ok {
		return fmt.Sprintf("mission %s not found\n", b.missionID)
	}

	var out strings.Builder
	out.WriteString(titleStyle.Render("HIVE MISSION BOARD"))
	out.WriteString("\n")
	fmt.Fprintf(&out, "%s  %s\n", mission.ID, truncate(mission.Instruction, b.width-12))
	out.WriteString(statusStyle.Render(fmt.Sprintf("status: %s | squads: %d/%d", mission.Status, completedSquads(mission), len(mission.Squads))))
	out.WriteString("\n\n")

	for _, squad := range mission.Squads {
		fmt.Fprintf(&out, "%s %s (%s)  %s\n",
			b.marker(models.UnitStatus(squad.Status)), squad.Callsign, squad.Specialist,
			truncate(squad.Objective, b.width-20))
		for _, st := range squad.SubTasks {
			fmt.Fprintf(&out, "   %s %s [%s] %s\n",
				b.marker(st.Status), st.ID, st.Executor, dimStyle.Render(truncate(st.Description, b.width-24)))
		}
	}

	if terminal(mission.Status) && mission.FinalReport != "" {
		out.WriteString("\n")
		out.WriteString(truncate(mission.FinalReport, 2000))
		out.WriteString("\n")
	}

	out.WriteString("\n")
	out.WriteString(dimStyle.Render("q: quit"))
	out.WriteString("\n")
	return out.String()
}

func (b *Board) marker(status models.UnitStatus) string {
	switch status {
	case models.UnitCompleted:
		return okStyle.Render("✓")
	case models.UnitFailed:
		return failStyle.Render("✗")
	case models.UnitInProgress:
		return b.spinner.View()
	default:
		return dimStyle.Render("·")
	}
}

func completedSquads(m *models.Mission) int {
	n := 0
	for _, s := range m.Squads {
		if s.Status == models.UnitCompleted {
			n++
		}
	}
	return n
}

func truncate(s string, max int) string {
	if max < 8 {
		max = 8
	}
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
