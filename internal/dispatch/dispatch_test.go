package dispatch

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/hivekit/hive/pkg/models"
)

type fakeWorker struct {
	role    models.Role
	respond func(ctx context.Context, prompt string, fullLoop bool) (string, error)
}

func (f *fakeWorker) Role() models.Role { return f.role }
func (f *fakeWorker) Respond(ctx context.Context, prompt string, fullLoop bool) (string, error) {
	return f.respond(ctx, prompt, fullLoop)
}

type recordingNotifier struct {
	lines []string
}

func (r *recordingNotifier) Notify(text string) { r.lines = append(r.lines, text) }

func TestDispatch_PermissionChecks(t *testing.T) {
	g := NewGraph(nil)
	g.Register(&fakeWorker{role: models.RoleDev, respond: func(context.Context, string, bool) (string, error) {
		return "ok", nil
	}})

	tests := []struct {
		name string
		call func() (string, error)
	}{
		{"specialist may not dispatch", func() (string, error) {
			return g.Dispatch(context.Background(), models.RoleDev, models.RoleDesign, "x")
		}},
		{"dispatch target must be specialist", func() (string, error) {
			return g.Dispatch(context.Background(), models.RoleCoordinator, models.RoleCoordinator, "x")
		}},
		{"coordinator may not report", func() (string, error) {
			return g.Report(context.Background(), models.RoleCoordinator, "x")
		}},
		{"unregistered target", func() (string, error) {
			return g.Dispatch(context.Background(), models.RoleCoordinator, models.RoleGrowth, "x")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.call(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestDispatch_ReturnsResult(t *testing.T) {
	notify := &recordingNotifier{}
	g := NewGraph(notify)
	g.Register(&fakeWorker{role: models.RoleDev, respond: func(ctx context.Context, prompt string, fullLoop bool) (string, error) {
		if !fullLoop {
			t.Error("first hop should run the full loop")
		}
		if got := Depth(ctx); got != 1 {
			t.Errorf("target depth = %d, want 1", got)
		}
		return "implemented: " + prompt, nil
	}})

	result, err := g.Dispatch(context.Background(), models.RoleCoordinator, models.RoleDev, "build the parser")
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if result != "implemented: build the parser" {
		t.Errorf("result = %q", result)
	}
	// Instruction-sent and result-received notices reach the channel.
	if len(notify.lines) != 2 {
		t.Fatalf("notifications = %v, want 2 lines", notify.lines)
	}
	if !strings.Contains(notify.lines[0], "dispatch") || !strings.Contains(notify.lines[1], "result") {
		t.Errorf("notifications = %v", notify.lines)
	}
}

func TestDepthGuard_ForcesReplyOnlyAtBound(t *testing.T) {
	g := NewGraph(nil)

	// coordinator -> dev -> coordinator -> design, then design is at the
	// bound and must be reply-only.
	g.Register(&fakeWorker{role: models.RoleDev, respond: func(ctx context.Context, prompt string, fullLoop bool) (string, error) {
		if !fullLoop {
			return "", fmt.Errorf("dev should run full loop at depth 1")
		}
		return g.Report(ctx, models.RoleDev, "done, advise next step")
	}})
	g.Register(&fakeWorker{role: models.RoleCoordinator, respond: func(ctx context.Context, prompt string, fullLoop bool) (string, error) {
		if !fullLoop {
			return "", fmt.Errorf("coordinator should run full loop at depth 2")
		}
		return g.Dispatch(ctx, models.RoleCoordinator, models.RoleDesign, "polish it")
	}})
	g.Register(&fakeWorker{role: models.RoleDesign, respond: func(ctx context.Context, prompt string, fullLoop bool) (string, error) {
		if fullLoop {
			return "", fmt.Errorf("design at depth 3 must be reply-only")
		}
		return "polished", nil
	}})

	result, err := g.Dispatch(context.Background(), models.RoleCoordinator, models.RoleDev, "build it")
	if err != nil {
		t.Fatalf("chain failed: %v", err)
	}
	if result != "polished" {
		t.Errorf("result = %q, want polished", result)
	}
}

func TestDepthGuard_IndependentChains(t *testing.T) {
	g := NewGraph(nil)
	depths := []int{}
	g.Register(&fakeWorker{role: models.RoleDev, respond: func(ctx context.Context, prompt string, fullLoop bool) (string, error) {
		depths = append(depths, Depth(ctx))
		return "ok", nil
	}})

	// Two sequential dispatches are separate causal chains; neither
	// inherits the other's depth.
	for i := 0; i < 2; i++ {
		if _, err := g.Dispatch(context.Background(), models.RoleCoordinator, models.RoleDev, "task"); err != nil {
			t.Fatalf("Dispatch() error: %v", err)
		}
	}
	if len(depths) != 2 || depths[0] != 1 || depths[1] != 1 {
		t.Errorf("depths = %v, want [1 1]", depths)
	}
}

func TestDispatch_ErrorPropagates(t *testing.T) {
	notify := &recordingNotifier{}
	g := NewGraph(notify)
	g.Register(&fakeWorker{role: models.RoleDev, respond: func(context.Context, string, bool) (string, error) {
		return "", fmt.Errorf("provider exploded")
	}})

	_, err := g.Dispatch(context.Background(), models.RoleCoordinator, models.RoleDev, "task")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "provider exploded") {
		t.Errorf("error should wrap the cause: %v", err)
	}
	// Failure notice still reaches the channel.
	found := false
	for _, line := range notify.lines {
		if strings.Contains(line, "failed") {
			found = true
		}
	}
	if !found {
		t.Errorf("no failure notification in %v", notify.lines)
	}
}
