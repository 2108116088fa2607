package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/hivekit/hive/internal/dispatch"
	"github.com/hivekit/hive/internal/exec"
	"github.com/hivekit/hive/internal/pipeline"
	"github.com/hivekit/hive/internal/provider"
	"github.com/hivekit/hive/pkg/models"
)

// commandOutputCap bounds run_command output returned to the model.
const commandOutputCap = 10000

// commandTimeout bounds one run_command invocation.
const commandTimeout = 60 * time.Second

// Toolbox executes tool calls on behalf of workers. Tool availability
// depends on the caller's role: only the coordinator dispatches and moves
// pipeline items, only specialists report.
type Toolbox struct {
	WorkDir  string
	Runner   exec.CommandRunner
	Graph    *dispatch.Graph
	Pipeline *pipeline.Engine
}

// Schemas returns the tool set offered to a role.
func (tb *Toolbox) Schemas(role models.Role) []provider.ToolSchema {
	tools := []provider.ToolSchema{
		{
			Name:        "run_command",
			Description: "Run a shell command on the server. Development tools like git, npm and python are available. Destructive commands are blocked.",
			Properties: map[string]interface{}{
				"command": map[string]interface{}{"type": "string", "description": "Shell command to run"},
				"cwd":     map[string]interface{}{"type": "string", "description": "Working directory (defaults to the workspace)"},
			},
			Required: []string{"command"},
		},
		{
			Name:        "read_file",
			Description: "Read the contents of a file: code, documents, configuration.",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{"type": "string", "description": "Path of the file to read"},
			},
			Required: []string{"path"},
		},
		{
			Name:        "write_file",
			Description: "Write content to a file. Use this to save code, documents and reports. Missing directories are created.",
			Properties: map[string]interface{}{
				"path":    map[string]interface{}{"type": "string", "description": "Path of the file to write"},
				"content": map[string]interface{}{"type": "string", "description": "Content to write"},
			},
			Required: []string{"path", "content"},
		},
		{
			Name:        "list_directory",
			Description: "List the files and folders in a directory.",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{"type": "string", "description": "Directory to list"},
			},
			Required: []string{"path"},
		},
	}

	if role == models.RoleCoordinator {
		tools = append(tools,
			provider.ToolSchema{
				Name:        "dispatch_to_worker",
				Description: "Hand a task to a specialist and receive the result. Coordinator only. Set mode to switch the specialist's sub-role first.",
				Properties: map[string]interface{}{
					"worker": map[string]interface{}{
						"type": "string", "description": "Target specialist",
						"enum": []string{"dev", "design", "support", "growth"},
					},
					"message": map[string]interface{}{"type": "string", "description": "Task instruction"},
					"mode": map[string]interface{}{
						"type": "string", "description": "Optional sub-role mode for the target",
						"enum": []string{"architect", "builder", "refactor", "content", "funnel", "data"},
					},
				},
				Required: []string{"worker", "message"},
			},
			provider.ToolSchema{
				Name:        "pipeline_create_item",
				Description: "Create a pipeline work item. It may start at any stage for fast-entry flows.",
				Properties: map[string]interface{}{
					"title":       map[string]interface{}{"type": "string", "description": "Item title"},
					"description": map[string]interface{}{"type": "string", "description": "Item description"},
					"priority": map[string]interface{}{
						"type": "string", "enum": []string{"critical", "high", "medium", "low"},
					},
					"stage": map[string]interface{}{
						"type": "string", "description": "Starting stage (defaults to intake)",
						"enum": []string{"intake", "triage", "build", "qa", "audit", "integrate", "release"},
					},
				},
				Required: []string{"title"},
			},
			provider.ToolSchema{
				Name:        "pipeline_transition",
				Description: "Move a pipeline item to a new stage. Coordinator only.",
				Properties: map[string]interface{}{
					"item_id": map[string]interface{}{"type": "string", "description": "Pipeline item id (e.g. PL-0001)"},
					"to_stage": map[string]interface{}{
						"type": "string", "description": "Target stage",
						"enum": []string{"intake", "triage", "build", "qa", "audit", "integrate", "release", "closed"},
					},
					"reason": map[string]interface{}{"type": "string", "description": "Why the item moves"},
				},
				Required: []string{"item_id", "to_stage", "reason"},
			},
			provider.ToolSchema{
				Name:        "pipeline_status",
				Description: "Show the pipeline board: open items per stage and recent completions.",
				Properties:  map[string]interface{}{},
			},
		)
	} else {
		tools = append(tools, provider.ToolSchema{
			Name:        "report_to_coordinator",
			Description: "Report to the coordinator: results, questions, escalations, or requests to collaborate with other workers. Workers cannot contact each other directly.",
			Properties: map[string]interface{}{
				"message": map[string]interface{}{"type": "string", "description": "Report content"},
			},
			Required: []string{"message"},
		})
	}
	return tools
}

// Execute runs one tool call and returns its result text. isError turns
// into an error-flagged tool result for the model.
func (tb *Toolbox) Execute(ctx context.Context, caller models.Role, call provider.ToolCall) (result string, isError bool) {
	args, err := parseToolInput(call.Input)
	if err != nil {
		return fmt.Sprintf("invalid tool input: %v", err), true
	}

	switch call.Name {
	case "run_command":
		return tb.runCommand(ctx, args)
	case "read_file":
		return tb.readFile(args)
	case "write_file":
		return tb.writeFile(args)
	case "list_directory":
		return tb.listDirectory(args)
	case "dispatch_to_worker":
		return tb.dispatchToWorker(ctx, caller, args)
	case "report_to_coordinator":
		return tb.reportToCoordinator(ctx, caller, args)
	case "pipeline_create_item":
		return tb.pipelineCreate(caller, args)
	case "pipeline_transition":
		return tb.pipelineTransition(caller, args)
	case "pipeline_status":
		if tb.Pipeline == nil {
			return "pipeline is not available", true
		}
		return tb.Pipeline.Status(), false
	default:
		return fmt.Sprintf("unknown tool %q", call.Name), true
	}
}

// parseToolInput decodes tool arguments, repairing malformed JSON the
// model sometimes produces.
func parseToolInput(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err == nil {
		return args, nil
	}
	fixed, err := jsonrepair.JSONRepair(string(raw))
	if err != nil {
		return nil, fmt.Errorf("unparseable arguments: %w", err)
	}
	if err := json.Unmarshal([]byte(fixed), &args); err != nil {
		return nil, fmt.Errorf("arguments still invalid after repair: %w", err)
	}
	log.Printf("[worker] repaired malformed tool arguments for %s", string(raw[:min(len(raw), 40)]))
	return args, nil
}

// blockedCommands are never run regardless of role.
var blockedCommands = []string{"rm -rf /", "mkfs", "format ", ":(){", "dd if="}

func (tb *Toolbox) runCommand(ctx context.Context, args map[string]any) (string, bool) {
	command := stringArg(args, "command")
	if command == "" {
		return "command is required", true
	}
	for _, blocked := range blockedCommands {
		if strings.Contains(command, blocked) {
			return fmt.Sprintf("command blocked: contains %q", blocked), true
		}
	}
	cwd := stringArg(args, "cwd")
	if cwd == "" {
		cwd = tb.WorkDir
	}

	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	out, err := tb.Runner.RunShell(cctx, cwd, command)
	text := exec.Truncate(string(out), commandOutputCap)
	if err != nil {
		return fmt.Sprintf("command failed: %v\n%s", err, text), true
	}
	if text == "" {
		text = "(no output)"
	}
	return text, false
}

func (tb *Toolbox) readFile(args map[string]any) (string, bool) {
	path := tb.resolvePath(stringArg(args, "path"))
	if path == "" {
		return "path is required", true
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("read failed: %v", err), true
	}
	return exec.Truncate(string(data), commandOutputCap), false
}

func (tb *Toolbox) writeFile(args map[string]any) (string, bool) {
	path := tb.resolvePath(stringArg(args, "path"))
	content := stringArg(args, "content")
	if path == "" {
		return "path is required", true
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Sprintf("create directory failed: %v", err), true
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Sprintf("write failed: %v", err), true
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), false
}

func (tb *Toolbox) listDirectory(args map[string]any) (string, bool) {
	path := tb.resolvePath(stringArg(args, "path"))
	if path == "" {
		path = tb.WorkDir
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Sprintf("list failed: %v", err), true
	}
	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(&b, "%s/\n", e.Name())
		} else {
			fmt.Fprintf(&b, "%s\n", e.Name())
		}
	}
	if b.Len() == 0 {
		return "(empty directory)", false
	}
	return b.String(), false
}

func (tb *Toolbox) dispatchToWorker(ctx context.Context, caller models.Role, args map[string]any) (string, bool) {
	if tb.Graph == nil {
		return "dispatch is not available", true
	}
	target := models.Role(stringArg(args, "worker"))
	message := stringArg(args, "message")
	if mode := stringArg(args, "mode"); mode != "" {
		message = fmt.Sprintf("[mode:%s] %s", mode, message)
	}
	result, err := tb.Graph.Dispatch(ctx, caller, target, message)
	if err != nil {
		return err.Error(), true
	}
	return result, false
}

func (tb *Toolbox) reportToCoordinator(ctx context.Context, caller models.Role, args map[string]any) (string, bool) {
	if tb.Graph == nil {
		return "report is not available", true
	}
	message := stringArg(args, "message")
	if strings.TrimSpace(message) == "" {
		return "message is required", true
	}
	result, err := tb.Graph.Report(ctx, caller, message)
	if err != nil {
		return err.Error(), true
	}
	return result, false
}

func (tb *Toolbox) pipelineCreate(caller models.Role, args map[string]any) (string, bool) {
	if tb.Pipeline == nil {
		return "pipeline is not available", true
	}
	title := stringArg(args, "title")
	if title == "" {
		return "title is required", true
	}
	item, err := tb.Pipeline.CreateItem(title, stringArg(args, "description"), caller, pipeline.CreateOptions{
		Priority:   models.Priority(stringArg(args, "priority")),
		StartStage: models.Stage(stringArg(args, "stage")),
	})
	if err != nil {
		return err.Error(), true
	}
	return fmt.Sprintf("created %s [%s] assigned to %s", item.ID, item.Stage, item.Assignee), false
}

func (tb *Toolbox) pipelineTransition(caller models.Role, args map[string]any) (string, bool) {
	if tb.Pipeline == nil {
		return "pipeline is not available", true
	}
	item, err := tb.Pipeline.Transition(
		stringArg(args, "item_id"),
		models.Stage(stringArg(args, "to_stage")),
		caller,
		stringArg(args, "reason"),
	)
	if err != nil {
		return err.Error(), true
	}
	return fmt.Sprintf("%s is now at %s, assigned to %s", item.ID, item.Stage, item.Assignee), false
}

// resolvePath keeps relative paths inside the workspace.
func (tb *Toolbox) resolvePath(path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(tb.WorkDir, path)
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}
