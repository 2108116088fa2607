// Package dispatch implements hub-spoke delegation between the coordinator
// and specialists, with a depth guard on recursive hand-offs.
package dispatch

import (
	"context"
	"fmt"
	"log"

	"github.com/hivekit/hive/pkg/models"
)

// MaxDepth bounds recursive dispatch/report hand-offs in one causal chain.
// At the bound the target runs reply-only, which guarantees termination.
const MaxDepth = 3

type depthKey struct{}

// Depth returns the delegation depth carried by the context.
func Depth(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// withDepth returns a context carrying the given delegation depth.
func withDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

// Responder runs one worker's answer path. fullLoop selects the agentic
// loop with tools; reply-only mode answers from the model alone.
type Responder interface {
	Role() models.Role
	Respond(ctx context.Context, prompt string, fullLoop bool) (string, error)
}

// Notifier surfaces dispatch traffic to the shared channel.
type Notifier interface {
	Notify(text string)
}

// nopNotifier drops notifications.
type nopNotifier struct{}

func (nopNotifier) Notify(string) {}

// Graph routes dispatch and report calls between registered workers.
type Graph struct {
	workers map[models.Role]Responder
	notify  Notifier
}

// NewGraph creates an empty dispatch graph.
func NewGraph(notify Notifier) *Graph {
	if notify == nil {
		notify = nopNotifier{}
	}
	return &Graph{
		workers: make(map[models.Role]Responder),
		notify:  notify,
	}
}

// Register adds a worker to the graph.
func (g *Graph) Register(w Responder) {
	g.workers[w.Role()] = w
}

// Dispatch hands a sub-task from the coordinator to a specialist and
// returns the specialist's synchronous result. Only the coordinator may
// dispatch, a worker may not target itself, and the depth guard decides
// whether the specialist runs its full loop or reply-only.
func (g *Graph) Dispatch(ctx context.Context, from, to models.Role, message string) (string, error) {
	if from != models.RoleCoordinator {
		return "", fmt.Errorf("only the coordinator may dispatch (got %s)", from)
	}
	if !to.IsSpecialist() {
		return "", fmt.Errorf("dispatch target must be a specialist (got %s)", to)
	}
	return g.handOff(ctx, from, to, message, "dispatch")
}

// Report sends a specialist's findings to the coordinator and returns the
// coordinator's synchronous acknowledgement or follow-up.
func (g *Graph) Report(ctx context.Context, from models.Role, message string) (string, error) {
	if !from.IsSpecialist() {
		return "", fmt.Errorf("only specialists may report (got %s)", from)
	}
	return g.handOff(ctx, from, models.RoleCoordinator, message, "report")
}

// handOff runs the shared delegation path for dispatch and report.
func (g *Graph) handOff(ctx context.Context, from, to models.Role, message, op string) (string, error) {
	if from == to {
		return "", fmt.Errorf("%s may not %s to itself", from, op)
	}
	target, ok := g.workers[to]
	if !ok {
		return "", fmt.Errorf("no worker registered for role %s", to)
	}

	depth := Depth(ctx) + 1
	fullLoop := depth < MaxDepth
	log.Printf("[dispatch] %s %s -> %s (depth %d, full=%v)", op, from, to, depth, fullLoop)
	g.notify.Notify(fmt.Sprintf("%s: %s -> %s: %s", op, from, to, firstLine(message)))

	result, err := target.Respond(withDepth(ctx, depth), message, fullLoop)
	if err != nil {
		g.notify.Notify(fmt.Sprintf("%s failed: %s -> %s: %v", op, from, to, err))
		return "", fmt.Errorf("%s %s -> %s: %w", op, from, to, err)
	}

	g.notify.Notify(fmt.Sprintf("%s result: %s -> %s: %s", op, to, from, firstLine(result)))
	return result, nil
}

// firstLine truncates a message for channel notifications.
func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' || i >= 120 {
			return s[:i] + "..."
		}
	}
	return s
}
