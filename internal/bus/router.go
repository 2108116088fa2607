// Package bus routes shared-channel messages to workers. Every worker
// sees every message; mentions short-circuit to the named worker, and
// unaddressed messages go through the relevance arbiter so exactly one
// worker answers.
package bus

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/hivekit/hive/internal/arbiter"
	"github.com/hivekit/hive/pkg/models"
)

// Deliverer posts an outbound worker message to a channel.
type Deliverer interface {
	Deliver(channelID, workerName, text string)
}

// Handler is the worker surface the router needs.
type Handler interface {
	Role() models.Role
	Name() string
	HandleMessage(ctx context.Context, msg models.InboundMessage) (string, error)
}

// Defaults for worker-to-worker reply limiting and error notices.
const (
	defaultBotBurst     = 5
	defaultBotWindow    = 30 * time.Second
	errorNoticeCooldown = 30 * time.Second
)

// RouterConfig wires a router.
type RouterConfig struct {
	Arbiter *arbiter.Arbiter
	Deliver Deliverer
	// BotBurst replies per BotWindow per channel for worker-to-worker
	// chatter. Zero values take the defaults.
	BotBurst  int
	BotWindow time.Duration
}

// Router fans inbound messages out to the roster.
type Router struct {
	arbiter *arbiter.Arbiter
	deliver Deliverer

	botBurst  int
	botWindow time.Duration

	mu      sync.Mutex
	workers []Handler

	botReplies map[string][]time.Time
	lastError  map[string]time.Time

	now func() time.Time
}

// NewRouter builds a router. Workers register afterwards.
func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		arbiter:    cfg.Arbiter,
		deliver:    cfg.Deliver,
		botBurst:   cfg.BotBurst,
		botWindow:  cfg.BotWindow,
		botReplies: make(map[string][]time.Time),
		lastError:  make(map[string]time.Time),
		now:        time.Now,
	}
	if r.botBurst <= 0 {
		r.botBurst = defaultBotBurst
	}
	if r.botWindow <= 0 {
		r.botWindow = defaultBotWindow
	}
	return r
}

// Register adds a worker to the broadcast set.
func (r *Router) Register(w Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers = append(r.workers, w)
}

// OnMessage broadcasts one message to every worker and blocks until each
// has decided whether to answer. At most one worker replies.
func (r *Router) OnMessage(ctx context.Context, msg models.InboundMessage) {
	r.mu.Lock()
	workers := make([]Handler, len(r.workers))
	copy(workers, r.workers)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.route(ctx, w, msg)
		}()
	}
	wg.Wait()
}

// route decides whether one worker answers the message.
func (r *Router) route(ctx context.Context, w Handler, msg models.InboundMessage) {
	if strings.EqualFold(msg.SenderName, w.Name()) {
		return
	}

	if msg.FromWorker {
		// Worker chatter only flows on explicit mentions, and never back
		// to the sender; the per-channel cap breaks reply loops.
		mentioned := r.mentions(msg.Text, msg.SenderName)
		if !mentioned[w.Name()] {
			return
		}
		if !r.allowBotReply(msg.ChannelID) {
			log.Printf("[bus] worker reply limit reached in %s", msg.ChannelID)
			return
		}
		log.Printf("[bus] worker-to-worker: %s -> %s", msg.SenderName, w.Name())
		r.handle(ctx, w, msg)
		return
	}

	if mentioned := r.mentions(msg.Text, msg.SenderName); len(mentioned) > 0 {
		if mentioned[w.Name()] {
			log.Printf("[bus] mention: %s answers message %d", w.Name(), msg.ID)
			r.handle(ctx, w, msg)
		}
		return
	}

	if r.arbiter == nil {
		if w.Role() == models.RoleCoordinator {
			r.handle(ctx, w, msg)
		}
		return
	}
	won := <-r.arbiter.SubmitBid(msg.ID, w.Role(), msg.Text)
	if won {
		log.Printf("[bus] claim won by %s for message %d", w.Name(), msg.ID)
		r.handle(ctx, w, msg)
	}
}

func (r *Router) handle(ctx context.Context, w Handler, msg models.InboundMessage) {
	reply, err := w.HandleMessage(ctx, msg)
	if err != nil {
		log.Printf("[bus] %s failed to answer message %d: %v", w.Name(), msg.ID, err)
		r.sendErrorNotice(msg.ChannelID, w.Name())
		return
	}
	if strings.TrimSpace(reply) == "" {
		return
	}
	if r.deliver != nil {
		r.deliver.Deliver(msg.ChannelID, w.Name(), reply)
	}
}

// mentions returns the worker names addressed in the text, by bare name
// or @name, case-insensitive, excluding the sender.
func (r *Router) mentions(text, sender string) map[string]bool {
	lower := strings.ToLower(text)
	out := make(map[string]bool)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.workers {
		name := strings.ToLower(w.Name())
		if strings.EqualFold(sender, w.Name()) {
			continue
		}
		if strings.Contains(lower, "@"+name) || strings.Contains(lower, name) {
			out[w.Name()] = true
		}
	}
	return out
}

// allowBotReply enforces the per-channel worker-to-worker reply cap and
// records the reply when allowed.
func (r *Router) allowBotReply(channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	recent := r.botReplies[channelID][:0]
	for _, t := range r.botReplies[channelID] {
		if now.Sub(t) < r.botWindow {
			recent = append(recent, t)
		}
	}
	if len(recent) >= r.botBurst {
		r.botReplies[channelID] = recent
		return false
	}
	r.botReplies[channelID] = append(recent, now)
	return true
}

// sendErrorNotice posts at most one failure notice per channel per
// cooldown window.
func (r *Router) sendErrorNotice(channelID, workerName string) {
	r.mu.Lock()
	last, ok := r.lastError[channelID]
	now := r.now()
	if ok && now.Sub(last) < errorNoticeCooldown {
		r.mu.Unlock()
		return
	}
	r.lastError[channelID] = now
	r.mu.Unlock()
	if r.deliver != nil {
		r.deliver.Deliver(channelID, workerName, "I hit an error handling that message, please try again.")
	}
}
