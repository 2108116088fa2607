package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/hivekit/hive/internal/mission"
	"github.com/hivekit/hive/internal/tui"
)

var missionWatch bool

var missionCmd = &cobra.Command{
	Use:   "mission",
	Short: "Launch and inspect missions",
}

var missionStartCmd = &cobra.Command{
	Use:   "start <instruction>",
	Short: "Plan a mission and run its squads",
	Long: `Decompose an instruction into 2-4 specialist squads, run them in
parallel, and print the synthesized report.

With --watch, shows a live board until the mission reaches a terminal
state.`,
	Args: cobra.ExactArgs(1),
	RunE: runMissionStart,
}

var missionStatusCmd = &cobra.Command{
	Use:   "status [mission-id]",
	Short: "Show mission boards from the project database",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, closeDB, err := openMissionHistory()
		if err != nil {
			return err
		}
		defer closeDB()

		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		fmt.Println(manager.Status(id))
		return nil
	},
}

var missionSquadsCmd = &cobra.Command{
	Use:   "squads <mission-id>",
	Short: "Show per-squad detail for a mission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, closeDB, err := openMissionHistory()
		if err != nil {
			return err
		}
		defer closeDB()

		fmt.Println(manager.SquadDetail(args[0]))
		return nil
	},
}

func runMissionStart(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	ctx := context.Background()

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	app.backends.Probe(probeCtx)
	cancel()

	m, err := app.missions.Create(ctx, args[0], "operator", "cli")
	if err != nil {
		return fmt.Errorf("plan mission: %w", err)
	}
	fmt.Printf("%s: %d squads planned\n", m.ID, len(m.Squads))

	if !missionWatch {
		if err := app.missions.Execute(ctx, m.ID); err != nil {
			return err
		}
		done, _ := app.missions.Get(m.ID)
		fmt.Println(done.FinalReport)
		return nil
	}

	execErr := make(chan error, 1)
	go func() {
		execErr <- app.missions.Execute(ctx, m.ID)
	}()

	board := tui.NewBoard(app.missions, m.ID, app.cfg.TUI.RefreshRate)
	if _, err := tea.NewProgram(board).Run(); err != nil {
		return fmt.Errorf("mission board: %w", err)
	}
	return <-execErr
}

// openMissionHistory opens the project database for read-only mission
// queries. No providers are wired; planning and execution need the full
// app from buildApp.
func openMissionHistory() (*mission.Manager, func(), error) {
	db, err := openProjectDB()
	if err != nil {
		return nil, nil, err
	}
	manager, err := mission.NewManager(mission.ManagerConfig{Store: db})
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return manager, func() { db.Close() }, nil
}

func init() {
	missionStartCmd.Flags().BoolVar(&missionWatch, "watch", false, "Show a live mission board while squads run")

	missionCmd.AddCommand(missionStartCmd)
	missionCmd.AddCommand(missionStatusCmd)
	missionCmd.AddCommand(missionSquadsCmd)
}
