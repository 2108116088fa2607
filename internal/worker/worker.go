// Package worker implements the roster workers: LLM-backed agents that
// answer chat, run the tool loop, and hand work to each other through the
// dispatch graph.
package worker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/hivekit/hive/internal/config"
	"github.com/hivekit/hive/internal/provider"
	"github.com/hivekit/hive/pkg/models"
)

// maxChatHistory bounds the plain conversation history kept per worker.
const maxChatHistory = 10

// maxToolHistory bounds the provider-native history used by the tool loop.
const maxToolHistory = 16

// Worker is one roster member backed by an LLM provider.
type Worker struct {
	role     models.Role
	name     string
	provider provider.ID
	model    string

	executor *provider.Executor
	toolbox  *Toolbox

	mu       sync.Mutex
	subRole  models.SubRole
	chatHist []models.Message
	toolHist []provider.ChatMessage
}

// New builds a worker from its roster entry.
func New(entry config.RosterEntry, executor *provider.Executor, toolbox *Toolbox) *Worker {
	subRole := entry.SubRole
	if subRole == "" {
		subRole = models.DefaultSubRoles[entry.Role]
	}
	return &Worker{
		role:     entry.Role,
		name:     entry.Name,
		provider: provider.ID(entry.Provider),
		model:    entry.Model,
		executor: executor,
		toolbox:  toolbox,
		subRole:  subRole,
	}
}

// Fresh returns a new worker with the same wiring and empty histories,
// starting at the role's default sub-role. Mission sub-tasks run on fresh
// instances so concurrent and sequential tasks never share conversation
// state with each other or with the chat worker.
func (w *Worker) Fresh() *Worker {
	return &Worker{
		role:     w.role,
		name:     w.name,
		provider: w.provider,
		model:    w.model,
		executor: w.executor,
		toolbox:  w.toolbox,
		subRole:  models.DefaultSubRoles[w.role],
	}
}

// Role returns the worker's roster role.
func (w *Worker) Role() models.Role { return w.role }

// Name returns the worker's display name.
func (w *Worker) Name() string { return w.name }

// SubRole returns the currently active sub-role.
func (w *Worker) SubRole() models.SubRole {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.subRole
}

// SwitchSubRole changes the worker's active sub-role. Only sub-roles
// listed for the worker's role are accepted.
func (w *Worker) SwitchSubRole(target models.SubRole) error {
	for _, s := range models.AvailableSubRoles[w.role] {
		if s == target {
			w.mu.Lock()
			prev := w.subRole
			w.subRole = target
			w.mu.Unlock()
			if prev != target {
				log.Printf("[worker] %s switched sub-role %s -> %s", w.name, prev, target)
			}
			return nil
		}
	}
	return fmt.Errorf("sub-role %s is not available to %s", target, w.role)
}

// modeSubRoles maps dispatch mode hints to sub-roles.
var modeSubRoles = map[string]models.SubRole{
	"architect": models.SubRoleDevArchitect,
	"builder":   models.SubRoleDevBuilder,
	"refactor":  models.SubRoleDevRefactor,
	"content":   models.SubRoleContent,
	"funnel":    models.SubRoleFunnel,
	"data":      models.SubRoleData,
}

// applyModeHint strips a leading [mode:x] marker from a dispatched prompt
// and switches the sub-role it names. Unknown or unavailable modes are
// ignored and the prompt passes through untouched.
func (w *Worker) applyModeHint(prompt string) string {
	if !strings.HasPrefix(prompt, "[mode:") {
		return prompt
	}
	end := strings.Index(prompt, "]")
	if end < 0 {
		return prompt
	}
	mode := prompt[len("[mode:"):end]
	if sub, ok := modeSubRoles[mode]; ok {
		if err := w.SwitchSubRole(sub); err != nil {
			log.Printf("[worker] %s ignoring mode hint %q: %v", w.name, mode, err)
		}
	}
	return strings.TrimSpace(prompt[end+1:])
}

// subRoleTriggers maps text markers to the sub-role they call for.
// Bracket tags give operators an explicit handle; the bare phrases catch
// natural requests. Checked in order, first hit wins.
var subRoleTriggers = []struct {
	role     models.Role
	sub      models.SubRole
	keywords []string
}{
	{models.RoleDev, models.SubRoleDevArchitect, []string{"[architect]", "architecture", "schema design", "api design", "data model"}},
	{models.RoleDev, models.SubRoleDevBuilder, []string{"[build]", "implement", "write the code", "build this", "develop"}},
	{models.RoleDev, models.SubRoleDevRefactor, []string{"[refactor]", "refactor", "optimize", "clean up", "tech debt"}},
	{models.RoleGrowth, models.SubRoleContent, []string{"[content]", "blog post", "copywriting", "social post", "newsletter"}},
	{models.RoleGrowth, models.SubRoleFunnel, []string{"[funnel]", "funnel", "conversion rate", "landing page", "onboarding flow"}},
	{models.RoleGrowth, models.SubRoleData, []string{"[data]", "analytics", "market research", "competitor", "metrics"}},
	{models.RoleCoordinator, models.SubRoleAuditor, []string{"[audit]", "audit", "security review", "vulnerability", "race condition"}},
}

// detectSubRole scans inbound text for a sub-role trigger for this
// worker's role. Chat messages switch the working mode without an
// explicit dispatch hint.
func (w *Worker) detectSubRole(text string) (models.SubRole, bool) {
	lower := strings.ToLower(text)
	for _, t := range subRoleTriggers {
		if t.role != w.role {
			continue
		}
		for _, kw := range t.keywords {
			if strings.Contains(lower, kw) {
				return t.sub, true
			}
		}
	}
	return "", false
}

// Respond handles a hand-off from the dispatch graph. With fullLoop the
// worker runs its tool loop; at the delegation depth bound it answers from
// a single model call instead.
func (w *Worker) Respond(ctx context.Context, prompt string, fullLoop bool) (string, error) {
	prompt = w.applyModeHint(prompt)
	if fullLoop {
		return w.runLoop(ctx, prompt)
	}
	return w.replyOnly(ctx, prompt)
}

// HandleMessage answers a chat message won through arbitration. The
// exchange lands in the rolling chat history so follow-ups have context.
func (w *Worker) HandleMessage(ctx context.Context, msg models.InboundMessage) (string, error) {
	if sub, ok := w.detectSubRole(msg.Text); ok && sub != w.SubRole() {
		if err := w.SwitchSubRole(sub); err != nil {
			log.Printf("[worker] %s keeping sub-role: %v", w.name, err)
		}
	}

	prompt := msg.Text
	if msg.SenderName != "" {
		prompt = fmt.Sprintf("%s: %s", msg.SenderName, msg.Text)
	}

	reply, err := w.runLoop(ctx, prompt)
	if err != nil {
		return "", err
	}

	w.mu.Lock()
	w.chatHist = append(w.chatHist,
		models.Message{Role: "user", Content: prompt},
		models.Message{Role: "assistant", Content: reply},
	)
	if len(w.chatHist) > maxChatHistory {
		w.chatHist = w.chatHist[len(w.chatHist)-maxChatHistory:]
	}
	w.mu.Unlock()
	return reply, nil
}

// ChatHistory returns a copy of the rolling chat history.
func (w *Worker) ChatHistory() []models.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]models.Message, len(w.chatHist))
	copy(out, w.chatHist)
	return out
}

// replyOnly makes a single model call with no tools. Used at the
// delegation depth bound where another tool loop could recurse forever.
// The coordinator answers these on its fast model; reply-only turns are
// low-stakes and the coordinator fields the most of them.
func (w *Worker) replyOnly(ctx context.Context, prompt string) (string, error) {
	w.mu.Lock()
	system := systemPrompt(w.role, w.subRole, w.name)
	messages := chatContext(w.chatHist, prompt)
	w.mu.Unlock()

	res, err := w.executor.Execute(ctx, provider.Call{
		Provider: w.provider,
		Worker:   w.name,
		Fast:     w.role == models.RoleCoordinator,
		Request: provider.Request{
			Model:    w.model,
			System:   system,
			Messages: messages,
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s reply failed: %w", w.name, err)
	}
	return res.Completion.Text, nil
}

// chatContext converts the rolling chat history plus the new prompt into
// provider messages.
func chatContext(hist []models.Message, prompt string) []provider.ChatMessage {
	messages := make([]provider.ChatMessage, 0, len(hist)+1)
	for _, m := range hist {
		messages = append(messages, provider.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return append(messages, provider.ChatMessage{Role: "user", Content: prompt})
}
