package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hivekit/hive/internal/config"
	"github.com/hivekit/hive/internal/provider"
	"github.com/hivekit/hive/pkg/models"
)

// scriptedInvoker replays a fixed sequence of completions and records
// every request it saw.
type scriptedInvoker struct {
	mu       sync.Mutex
	id       provider.ID
	script   []*provider.Completion
	errs     []error
	requests []provider.Request
}

func (s *scriptedInvoker) ID() provider.ID      { return s.id }
func (s *scriptedInvoker) DefaultModel() string { return "test-model" }

func (s *scriptedInvoker) Invoke(_ context.Context, req provider.Request) (*provider.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.requests)
	s.requests = append(s.requests, req)
	if n < len(s.errs) && s.errs[n] != nil {
		return nil, s.errs[n]
	}
	if n >= len(s.script) {
		return &provider.Completion{Text: "done"}, nil
	}
	return s.script[n], nil
}

func (s *scriptedInvoker) calls() []provider.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]provider.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func textCompletion(text string) *provider.Completion {
	return &provider.Completion{Text: text, StopReason: "end_turn"}
}

func toolCompletion(name, input string) *provider.Completion {
	return &provider.Completion{
		StopReason: "tool_use",
		ToolCalls:  []provider.ToolCall{{ID: "tc-1", Name: name, Input: json.RawMessage(input)}},
	}
}

func newTestWorker(t *testing.T, role models.Role, inv *scriptedInvoker) *Worker {
	t.Helper()
	exec := provider.NewExecutor(provider.ExecutorConfig{
		Invokers: map[provider.ID]provider.Invoker{inv.id: inv},
	})
	t.Cleanup(exec.Close)
	tb := &Toolbox{WorkDir: t.TempDir()}
	return New(config.RosterEntry{
		Role:     role,
		Name:     "tester",
		Provider: string(inv.id),
	}, exec, tb)
}

func TestRespond_ReplyOnlySkipsTools(t *testing.T) {
	inv := &scriptedInvoker{id: provider.AnthropicID, script: []*provider.Completion{
		textCompletion("short answer"),
	}}
	w := newTestWorker(t, models.RoleDev, inv)

	got, err := w.Respond(context.Background(), "quick question", false)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got != "short answer" {
		t.Errorf("got %q, want %q", got, "short answer")
	}
	calls := inv.calls()
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if len(calls[0].Tools) != 0 {
		t.Errorf("reply-only call carried %d tools, want none", len(calls[0].Tools))
	}
}

func TestFresh_StartsWithEmptyHistory(t *testing.T) {
	inv := &scriptedInvoker{id: provider.AnthropicID, script: []*provider.Completion{
		textCompletion("first answer"),
		textCompletion("second answer"),
	}}
	w := newTestWorker(t, models.RoleCoordinator, inv)
	if err := w.SwitchSubRole(models.SubRoleAuditor); err != nil {
		t.Fatalf("SwitchSubRole: %v", err)
	}

	if _, err := w.Respond(context.Background(), "first task", true); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	fresh := w.Fresh()
	if fresh.SubRole() != models.DefaultSubRoles[models.RoleCoordinator] {
		t.Errorf("fresh sub-role = %s, want the default", fresh.SubRole())
	}
	if _, err := fresh.Respond(context.Background(), "second task", true); err != nil {
		t.Fatalf("fresh Respond: %v", err)
	}

	calls := inv.calls()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	// The fresh worker must not carry the first conversation.
	second := calls[1]
	if len(second.Messages) != 1 {
		t.Fatalf("fresh worker call carried %d messages, want 1", len(second.Messages))
	}
	if strings.Contains(second.Messages[0].Content, "first task") {
		t.Errorf("fresh worker saw the earlier prompt: %q", second.Messages[0].Content)
	}
}

func TestReplyOnly_CoordinatorTakesFastModel(t *testing.T) {
	inv := &scriptedInvoker{id: provider.AnthropicID, script: []*provider.Completion{
		textCompletion("quick answer"),
		textCompletion("careful answer"),
	}}
	exec := provider.NewExecutor(provider.ExecutorConfig{
		Invokers:   map[provider.ID]provider.Invoker{inv.id: inv},
		FastModels: map[provider.ID]string{inv.id: "claude-fast"},
	})
	t.Cleanup(exec.Close)
	tb := &Toolbox{WorkDir: t.TempDir()}
	entry := config.RosterEntry{Name: "tester", Provider: string(inv.id), Model: "claude-main"}

	entry.Role = models.RoleCoordinator
	coord := New(entry, exec, tb)
	if _, err := coord.Respond(context.Background(), "quick question", false); err != nil {
		t.Fatalf("coordinator Respond: %v", err)
	}

	entry.Role = models.RoleDev
	dev := New(entry, exec, tb)
	if _, err := dev.Respond(context.Background(), "quick question", false); err != nil {
		t.Fatalf("dev Respond: %v", err)
	}

	calls := inv.calls()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if calls[0].Model != "claude-fast" {
		t.Errorf("coordinator reply model = %q, want claude-fast", calls[0].Model)
	}
	if calls[1].Model != "claude-main" {
		t.Errorf("dev reply model = %q, want claude-main", calls[1].Model)
	}
}

func TestRunLoop_ExecutesToolsAndReturnsFinalText(t *testing.T) {
	inv := &scriptedInvoker{id: provider.AnthropicID, script: []*provider.Completion{
		toolCompletion("list_directory", `{}`),
		textCompletion("the directory is empty"),
	}}
	w := newTestWorker(t, models.RoleCoordinator, inv)

	got, err := w.Respond(context.Background(), "what is in the workspace?", true)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got != "the directory is empty" {
		t.Errorf("got %q", got)
	}

	calls := inv.calls()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	// Second call must carry the tool result turn.
	last := calls[1].Messages[len(calls[1].Messages)-1]
	if len(last.ToolResults) != 1 {
		t.Fatalf("final call missing tool results: %+v", last)
	}
	if last.ToolResults[0].IsError {
		t.Errorf("list_directory on an empty temp dir should not error: %s", last.ToolResults[0].Content)
	}
}

func TestRunLoop_WriteFileEnforcementForSpecialists(t *testing.T) {
	inv := &scriptedInvoker{id: provider.AnthropicID, script: []*provider.Completion{
		toolCompletion("list_directory", `{}`),
		textCompletion("all done"), // finishes without write_file
		toolCompletion("write_file", `{"path":"out.txt","content":"deliverable"}`),
		textCompletion("saved the deliverable to out.txt"),
	}}
	w := newTestWorker(t, models.RoleDev, inv)

	got, err := w.Respond(context.Background(), "produce a report", true)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got != "saved the deliverable to out.txt" {
		t.Errorf("got %q", got)
	}

	calls := inv.calls()
	if len(calls) != 4 {
		t.Fatalf("got %d calls, want 4 (loop, finish, reminded write, closing)", len(calls))
	}
	found := false
	for _, m := range calls[2].Messages {
		if strings.Contains(m.Content, "write_file") && m.Role == "user" {
			found = true
		}
	}
	if !found {
		t.Errorf("reminder turn missing from third call")
	}
	data, err := os.ReadFile(filepath.Join(w.toolbox.WorkDir, "out.txt"))
	if err != nil {
		t.Fatalf("deliverable not written: %v", err)
	}
	if string(data) != "deliverable" {
		t.Errorf("deliverable content = %q", data)
	}
}

func TestRunLoop_NoEnforcementForCoordinator(t *testing.T) {
	inv := &scriptedInvoker{id: provider.AnthropicID, script: []*provider.Completion{
		toolCompletion("list_directory", `{}`),
		textCompletion("summary for the user"),
	}}
	w := newTestWorker(t, models.RoleCoordinator, inv)

	got, err := w.Respond(context.Background(), "check the workspace", true)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got != "summary for the user" {
		t.Errorf("got %q", got)
	}
	if n := len(inv.calls()); n != 2 {
		t.Errorf("coordinator hit the write reminder: %d calls, want 2", n)
	}
}

func TestRunLoop_StopsAtRoundBound(t *testing.T) {
	script := make([]*provider.Completion, 0, maxToolRounds+1)
	for i := 0; i <= maxToolRounds; i++ {
		script = append(script, toolCompletion("list_directory", `{}`))
	}
	inv := &scriptedInvoker{id: provider.AnthropicID, script: script}
	w := newTestWorker(t, models.RoleCoordinator, inv)

	got, err := w.Respond(context.Background(), "loop forever", true)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got == "" {
		t.Errorf("round bound returned an empty answer")
	}
	if n := len(inv.calls()); n != maxToolRounds+1 {
		t.Errorf("got %d calls, want %d", n, maxToolRounds+1)
	}
}

func TestRunLoop_RestoresHistoryOnProviderFailure(t *testing.T) {
	inv := &scriptedInvoker{
		id:   provider.AnthropicID,
		errs: []error{&provider.Error{Provider: provider.AnthropicID, Kind: provider.KindAuth, Err: errors.New("bad key")}},
	}
	w := newTestWorker(t, models.RoleDev, inv)

	if _, err := w.Respond(context.Background(), "hello", true); err == nil {
		t.Fatal("expected an error")
	}
	w.mu.Lock()
	n := len(w.toolHist)
	w.mu.Unlock()
	if n != 0 {
		t.Errorf("tool history not restored, has %d entries", n)
	}
}

func TestHandleMessage_BoundsChatHistory(t *testing.T) {
	script := make([]*provider.Completion, 0, maxChatHistory)
	for i := 0; i < maxChatHistory; i++ {
		script = append(script, textCompletion("ok"))
	}
	inv := &scriptedInvoker{id: provider.AnthropicID, script: script}
	w := newTestWorker(t, models.RoleSupport, inv)

	for i := 0; i < maxChatHistory; i++ {
		if _, err := w.HandleMessage(context.Background(), models.InboundMessage{
			SenderName: "user", Text: "ping",
		}); err != nil {
			t.Fatalf("HandleMessage: %v", err)
		}
	}
	if n := len(w.ChatHistory()); n != maxChatHistory {
		t.Errorf("chat history length = %d, want %d", n, maxChatHistory)
	}
}

func TestHandleMessage_AutoDetectsSubRole(t *testing.T) {
	tests := []struct {
		name string
		role models.Role
		text string
		want models.SubRole
	}{
		{"refactor keyword", models.RoleDev, "can you refactor the parser?", models.SubRoleDevRefactor},
		{"bracket tag", models.RoleDev, "[architect] sketch the billing schema", models.SubRoleDevArchitect},
		{"growth funnel", models.RoleGrowth, "the landing page converts badly", models.SubRoleFunnel},
		{"foreign trigger ignored", models.RoleDev, "write a blog post about us", models.DefaultSubRoles[models.RoleDev]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &scriptedInvoker{id: provider.AnthropicID, script: []*provider.Completion{textCompletion("ok")}}
			w := newTestWorker(t, tt.role, inv)

			if _, err := w.HandleMessage(context.Background(), models.InboundMessage{
				SenderName: "user", Text: tt.text,
			}); err != nil {
				t.Fatalf("HandleMessage: %v", err)
			}
			if w.SubRole() != tt.want {
				t.Errorf("sub-role = %s, want %s", w.SubRole(), tt.want)
			}
		})
	}
}

func TestApplyModeHint_SwitchesSubRole(t *testing.T) {
	inv := &scriptedInvoker{id: provider.AnthropicID}
	w := newTestWorker(t, models.RoleDev, inv)

	prompt := w.applyModeHint("[mode:refactor] clean up the parser")
	if prompt != "clean up the parser" {
		t.Errorf("prompt = %q", prompt)
	}
	if w.SubRole() != models.SubRoleDevRefactor {
		t.Errorf("sub-role = %s, want %s", w.SubRole(), models.SubRoleDevRefactor)
	}

	// A mode the role cannot take is ignored.
	prompt = w.applyModeHint("[mode:funnel] analyze signups")
	if prompt != "analyze signups" {
		t.Errorf("prompt = %q", prompt)
	}
	if w.SubRole() != models.SubRoleDevRefactor {
		t.Errorf("sub-role changed to %s on an unavailable mode", w.SubRole())
	}
}

func TestSwitchSubRole_RejectsForeignModes(t *testing.T) {
	inv := &scriptedInvoker{id: provider.AnthropicID}
	w := newTestWorker(t, models.RoleSupport, inv)

	if err := w.SwitchSubRole(models.SubRoleDevBuilder); err == nil {
		t.Error("support switching to dev-builder should fail")
	}
	if err := w.SwitchSubRole(models.SubRoleSupportAgent); err != nil {
		t.Errorf("support-agent should be allowed: %v", err)
	}
}

func TestToolbox_RoleToolSets(t *testing.T) {
	tb := &Toolbox{}
	coord := toolNames(tb.Schemas(models.RoleCoordinator))
	dev := toolNames(tb.Schemas(models.RoleDev))

	for _, name := range []string{"dispatch_to_worker", "pipeline_transition", "pipeline_status"} {
		if !coord[name] {
			t.Errorf("coordinator missing %s", name)
		}
		if dev[name] {
			t.Errorf("dev should not have %s", name)
		}
	}
	if !dev["report_to_coordinator"] {
		t.Error("dev missing report_to_coordinator")
	}
	if coord["report_to_coordinator"] {
		t.Error("coordinator should not have report_to_coordinator")
	}
}

func toolNames(schemas []provider.ToolSchema) map[string]bool {
	out := make(map[string]bool, len(schemas))
	for _, s := range schemas {
		out[s.Name] = true
	}
	return out
}

func TestParseToolInput_RepairsMalformedJSON(t *testing.T) {
	// Trailing comma and single quotes, typical model output damage.
	args, err := parseToolInput(json.RawMessage(`{'path': 'a.txt',}`))
	if err != nil {
		t.Fatalf("parseToolInput: %v", err)
	}
	if args["path"] != "a.txt" {
		t.Errorf("path = %v", args["path"])
	}
}

func TestToolbox_BlocksDestructiveCommands(t *testing.T) {
	tb := &Toolbox{WorkDir: t.TempDir()}
	out, isErr := tb.Execute(context.Background(), models.RoleDev, provider.ToolCall{
		Name:  "run_command",
		Input: json.RawMessage(`{"command":"rm -rf / --no-preserve-root"}`),
	})
	if !isErr {
		t.Fatalf("destructive command ran: %s", out)
	}
	if !strings.Contains(out, "blocked") {
		t.Errorf("output = %q", out)
	}
}
