package worker

import (
	"context"
	"fmt"
	"log"

	"github.com/hivekit/hive/internal/provider"
	"github.com/hivekit/hive/pkg/models"
)

// maxToolRounds bounds how many tool rounds one loop may run.
const maxToolRounds = 7

// maxWriteReminders bounds the retries spent coaxing a specialist into
// saving its deliverable with write_file.
const maxWriteReminders = 3

// writeReminder is injected when a specialist used tools but never saved
// its work.
const writeReminder = "You used tools but did not save your deliverable. " +
	"Call write_file now to persist the result of this task, then give your final answer."

// runLoop is the agentic tool loop: call the model, execute requested
// tools, feed results back, until the model answers in plain text or the
// round bound is hit. On a provider failure the tool history rolls back
// to its pre-loop snapshot so a truncated exchange never poisons the next
// request.
func (w *Worker) runLoop(ctx context.Context, prompt string) (string, error) {
	w.mu.Lock()
	system := systemPrompt(w.role, w.subRole, w.name)
	snapshot := make([]provider.ChatMessage, len(w.toolHist))
	copy(snapshot, w.toolHist)
	w.appendToolHistLocked(provider.ChatMessage{Role: "user", Content: prompt})
	w.mu.Unlock()

	tools := w.toolbox.Schemas(w.role)

	var finalText string
	wroteFile := false
	rounds := 0
	for {
		completion, err := w.call(ctx, system, tools)
		if err != nil {
			w.restoreToolHist(snapshot)
			return "", fmt.Errorf("%s loop failed: %w", w.name, err)
		}
		if !completion.WantsTools() {
			finalText = completion.Text
			break
		}
		if rounds >= maxToolRounds {
			log.Printf("[worker] %s hit the tool round bound, forcing a final answer", w.name)
			finalText = completion.Text
			if finalText == "" {
				finalText = "Task stopped at the tool round bound before completing."
			}
			break
		}
		rounds++
		if w.runToolRound(ctx, completion) {
			wroteFile = true
		}
	}

	if !wroteFile && w.role != models.RoleCoordinator && rounds > 0 && rounds < maxToolRounds {
		finalText = w.enforceWrite(ctx, system, tools, finalText)
	}

	w.mu.Lock()
	w.appendToolHistLocked(provider.ChatMessage{Role: "assistant", Content: finalText})
	w.mu.Unlock()
	return finalText, nil
}

// runToolRound records the assistant turn, executes every requested tool,
// and records the results. Returns true if write_file succeeded.
func (w *Worker) runToolRound(ctx context.Context, completion *provider.Completion) bool {
	w.mu.Lock()
	w.appendToolHistLocked(provider.ChatMessage{
		Role:      "assistant",
		Content:   completion.Text,
		ToolCalls: completion.ToolCalls,
	})
	w.mu.Unlock()

	wrote := false
	results := make([]provider.ToolResult, 0, len(completion.ToolCalls))
	for _, call := range completion.ToolCalls {
		content, isErr := w.toolbox.Execute(ctx, w.role, call)
		if call.Name == "write_file" && !isErr {
			wrote = true
		}
		if isErr {
			log.Printf("[worker] %s tool %s failed: %s", w.name, call.Name, firstChars(content, 120))
		}
		results = append(results, provider.ToolResult{CallID: call.ID, Content: content, IsError: isErr})
	}

	w.mu.Lock()
	w.appendToolHistLocked(provider.ChatMessage{Role: "user", ToolResults: results})
	w.mu.Unlock()
	return wrote
}

// enforceWrite reminds a specialist to persist its deliverable. Up to
// maxWriteReminders retries; gives up with the last answer if the model
// keeps refusing.
func (w *Worker) enforceWrite(ctx context.Context, system string, tools []provider.ToolSchema, lastText string) string {
	w.mu.Lock()
	w.appendToolHistLocked(provider.ChatMessage{Role: "user", Content: writeReminder})
	w.mu.Unlock()
	log.Printf("[worker] %s finished without write_file, reminding", w.name)

	for attempt := 0; attempt < maxWriteReminders; attempt++ {
		completion, err := w.call(ctx, system, tools)
		if err != nil {
			log.Printf("[worker] %s write reminder call failed: %v", w.name, err)
			return lastText
		}
		if !completion.WantsTools() {
			return completion.Text
		}
		if w.runToolRound(ctx, completion) {
			// Deliverable saved; one more call for the closing answer.
			closing, err := w.call(ctx, system, nil)
			if err != nil || closing.Text == "" {
				return lastText
			}
			return closing.Text
		}
	}
	return lastText
}

// call sends the current tool history through the executor.
func (w *Worker) call(ctx context.Context, system string, tools []provider.ToolSchema) (*provider.Completion, error) {
	w.mu.Lock()
	messages := make([]provider.ChatMessage, len(w.toolHist))
	copy(messages, w.toolHist)
	w.mu.Unlock()

	res, err := w.executor.Execute(ctx, provider.Call{
		Provider: w.provider,
		Worker:   w.name,
		Request: provider.Request{
			Model:    w.model,
			System:   system,
			Messages: messages,
			Tools:    tools,
		},
	})
	if err != nil {
		return nil, err
	}
	return res.Completion, nil
}

// appendToolHistLocked appends and trims the tool history. Caller holds
// w.mu. Trimming never strands a tool-result turn at the front without
// its assistant turn: the window slides one further when it would.
func (w *Worker) appendToolHistLocked(msg provider.ChatMessage) {
	w.toolHist = append(w.toolHist, msg)
	if len(w.toolHist) > maxToolHistory {
		cut := len(w.toolHist) - maxToolHistory
		for cut < len(w.toolHist) && len(w.toolHist[cut].ToolResults) > 0 {
			cut++
		}
		w.toolHist = w.toolHist[cut:]
	}
}

func (w *Worker) restoreToolHist(snapshot []provider.ChatMessage) {
	w.mu.Lock()
	w.toolHist = snapshot
	w.mu.Unlock()
}

// firstChars truncates a string for log lines.
func firstChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
