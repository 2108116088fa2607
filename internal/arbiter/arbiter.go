// Package arbiter elects the single worker allowed to answer a broadcast
// message. Workers bid with a relevance score inside a short collection
// window; one winner is resolved per message id.
package arbiter

import (
	"strings"
	"sync"
	"time"

	"github.com/hivekit/hive/pkg/models"
)

const (
	// DefaultWindow is how long a claim stays open collecting bids.
	DefaultWindow = 150 * time.Millisecond
	// DefaultCacheTTL is how long a resolved claim is remembered.
	DefaultCacheTTL = 60 * time.Second
	// keywordScore is awarded per keyword match.
	keywordScore = 10
	// coordinatorBonus makes the coordinator win ties and unmatched messages.
	coordinatorBonus = 1
)

// Config configures an Arbiter.
type Config struct {
	// Keywords maps each worker role to its topic keywords.
	Keywords map[models.Role][]string
	// Expected is the number of workers expected to bid per message.
	// When all have bid, the window resolves early.
	Expected int
	// Window overrides the collection window. For tests.
	Window time.Duration
	// CacheTTL overrides the resolved-claim retention. For tests.
	CacheTTL time.Duration
}

// Arbiter collects bids per message id and resolves one winner.
type Arbiter struct {
	window   time.Duration
	cacheTTL time.Duration
	expected int
	keywords map[models.Role][]string

	mu       sync.Mutex
	pending  map[int64]*claim
	resolved map[int64]resolvedClaim

	done chan struct{}
	wg   sync.WaitGroup

	now func() time.Time
}

type claim struct {
	bids  []*bid
	timer *time.Timer
}

type bid struct {
	worker models.Role
	score  int
	result chan bool
}

type resolvedClaim struct {
	winner models.Role
	at     time.Time
}

// New creates an arbiter and starts its cache janitor. Call Close to stop it.
func New(cfg Config) *Arbiter {
	a := &Arbiter{
		window:   cfg.Window,
		cacheTTL: cfg.CacheTTL,
		expected: cfg.Expected,
		keywords: cfg.Keywords,
		pending:  make(map[int64]*claim),
		resolved: make(map[int64]resolvedClaim),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	if a.window == 0 {
		a.window = DefaultWindow
	}
	if a.cacheTTL == 0 {
		a.cacheTTL = DefaultCacheTTL
	}
	if a.expected == 0 {
		a.expected = len(models.Roster)
	}

	a.wg.Add(1)
	go a.janitor()
	return a
}

// Close stops the cache janitor and resolves any open claims.
func (a *Arbiter) Close() {
	close(a.done)
	a.wg.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	for id := range a.pending {
		a.resolveLocked(id)
	}
}

// SubmitBid registers a bid for a message. The returned channel delivers
// exactly one value: true if this worker won the claim.
//
// The first bid for a message id opens a collection window; the claim
// resolves when every expected worker has bid or the window elapses,
// whichever is first. Bids arriving after resolution short-circuit against
// the cached winner.
func (a *Arbiter) SubmitBid(messageID int64, worker models.Role, text string) <-chan bool {
	result := make(chan bool, 1)

	a.mu.Lock()
	defer a.mu.Unlock()

	if rc, ok := a.resolved[messageID]; ok {
		if a.now().Sub(rc.at) < a.cacheTTL {
			result <- rc.winner == worker
			return result
		}
		// TTL elapsed; the id may be arbitrated again.
		delete(a.resolved, messageID)
	}

	b := &bid{worker: worker, score: a.score(worker, text), result: result}

	c, ok := a.pending[messageID]
	if !ok {
		c = &claim{}
		c.timer = time.AfterFunc(a.window, func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			a.resolveLocked(messageID)
		})
		a.pending[messageID] = c
	}
	c.bids = append(c.bids, b)

	if len(c.bids) >= a.expected {
		a.resolveLocked(messageID)
	}
	return result
}

// Winner returns the cached winner for a message id, if still retained.
func (a *Arbiter) Winner(messageID int64) (models.Role, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rc, ok := a.resolved[messageID]
	if !ok || a.now().Sub(rc.at) >= a.cacheTTL {
		return "", false
	}
	return rc.winner, true
}

// score computes keyword relevance for a worker against the message text.
func (a *Arbiter) score(worker models.Role, text string) int {
	lower := strings.ToLower(text)
	score := 0
	for _, kw := range a.keywords[worker] {
		if strings.Contains(lower, strings.ToLower(kw)) {
			score += keywordScore
		}
	}
	if worker == models.RoleCoordinator {
		score += coordinatorBonus
	}
	return score
}

// resolveLocked picks the winner and fulfills every bidder. The highest
// score wins; on a tie the coordinator wins if tied, otherwise the
// first-registered bidder. Caller holds the lock.
func (a *Arbiter) resolveLocked(messageID int64) {
	c, ok := a.pending[messageID]
	if !ok {
		return
	}
	delete(a.pending, messageID)
	c.timer.Stop()

	if len(c.bids) == 0 {
		return
	}

	best := c.bids[0]
	for _, b := range c.bids[1:] {
		switch {
		case b.score > best.score:
			best = b
		case b.score == best.score && b.worker == models.RoleCoordinator:
			best = b
		}
	}

	a.resolved[messageID] = resolvedClaim{winner: best.worker, at: a.now()}
	for _, b := range c.bids {
		b.result <- b.worker == best.worker
	}
}

// janitor sweeps expired resolved claims so the cache stays bounded.
func (a *Arbiter) janitor() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cacheTTL)
	defer ticker.Stop()
	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			a.mu.Lock()
			cutoff := a.now().Add(-a.cacheTTL)
			for id, rc := range a.resolved {
				if rc.at.Before(cutoff) {
					delete(a.resolved, id)
				}
			}
			a.mu.Unlock()
		}
	}
}
