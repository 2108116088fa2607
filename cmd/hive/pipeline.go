package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hivekit/hive/internal/pipeline"
	"github.com/hivekit/hive/pkg/models"
)

var (
	pipelineDesc     string
	pipelineStage    string
	pipelinePriority string
	pipelineReason   string
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Manage the delivery pipeline",
}

var pipelineNewCmd = &cobra.Command{
	Use:   "new <title>",
	Short: "Open a work item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, closeDB, err := openPipeline()
		if err != nil {
			return err
		}
		defer closeDB()

		opts := pipeline.CreateOptions{}
		if pipelineStage != "" {
			stage := models.Stage(pipelineStage)
			if !stage.Valid() {
				return fmt.Errorf("unknown stage %q", pipelineStage)
			}
			opts.StartStage = stage
		}
		if pipelinePriority != "" {
			prio := models.Priority(pipelinePriority)
			if !prio.Valid() {
				return fmt.Errorf("unknown priority %q", pipelinePriority)
			}
			opts.Priority = prio
		}

		item, err := engine.CreateItem(args[0], pipelineDesc, models.RoleCoordinator, opts)
		if err != nil {
			return err
		}
		fmt.Printf("%s created in %s, assigned to %s\n", item.ID, item.Stage, item.Assignee)
		return nil
	},
}

var pipelineMoveCmd = &cobra.Command{
	Use:   "move <item-id> <stage>",
	Short: "Transition an item to another stage",
	Long: `Transition a work item. Only moves listed in the stage table are
legal; an illegal move is rejected and the item stays put.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, closeDB, err := openPipeline()
		if err != nil {
			return err
		}
		defer closeDB()

		to := models.Stage(args[1])
		if !to.Valid() {
			return fmt.Errorf("unknown stage %q; stages: %s", args[1], stageList())
		}
		item, err := engine.Transition(args[0], to, models.RoleCoordinator, pipelineReason)
		if err != nil {
			return err
		}
		fmt.Printf("%s -> %s, assigned to %s\n", item.ID, item.Stage, item.Assignee)
		return nil
	},
}

var pipelineShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the pipeline board",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, closeDB, err := openPipeline()
		if err != nil {
			return err
		}
		defer closeDB()

		fmt.Println(engine.Status())
		return nil
	},
}

// openPipeline restores the pipeline engine from the project database.
func openPipeline() (*pipeline.Engine, func(), error) {
	db, err := openProjectDB()
	if err != nil {
		return nil, nil, err
	}
	return pipeline.New(db), func() { db.Close() }, nil
}

func stageList() string {
	out := make([]string, len(models.Stages))
	for i, s := range models.Stages {
		out[i] = string(s)
	}
	return strings.Join(out, ", ")
}

func init() {
	pipelineNewCmd.Flags().StringVar(&pipelineDesc, "desc", "", "Item description")
	pipelineNewCmd.Flags().StringVar(&pipelineStage, "stage", "", "Starting stage (defaults to intake)")
	pipelineNewCmd.Flags().StringVar(&pipelinePriority, "priority", "", "Priority: critical, high, medium, low")
	pipelineMoveCmd.Flags().StringVar(&pipelineReason, "reason", "", "Why the item is moving")

	pipelineCmd.AddCommand(pipelineNewCmd)
	pipelineCmd.AddCommand(pipelineMoveCmd)
	pipelineCmd.AddCommand(pipelineShowCmd)
}
