package provider

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	// defaultCooldown is how long a failed provider sits out of rotation.
	defaultCooldown = 60 * time.Second
	// defaultMaxRetries bounds same-provider retries on throttling.
	defaultMaxRetries = 3
	// defaultBaseDelay is the first backoff delay; it doubles per retry.
	defaultBaseDelay = 5 * time.Second
)

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// Invokers maps each available provider to its client.
	Invokers map[ID]Invoker
	// Usage receives per-call token counts. Optional.
	Usage *UsageTracker
	// FastModels maps providers to a cheaper model used for Fast calls.
	FastModels map[ID]string
	// Cooldown overrides the 60s failure cooldown. For tests.
	Cooldown time.Duration
	// MaxRetries overrides the throttle retry count. For tests.
	MaxRetries int
	// BaseDelay overrides the first backoff delay. For tests.
	BaseDelay time.Duration
}

// Call is one invocation routed through the executor.
type Call struct {
	// Provider is the preferred provider for this call.
	Provider ID
	// Worker attributes token usage. Optional.
	Worker string
	// Fast swaps the request onto the provider's cheap model, overriding
	// any model the request names.
	Fast bool
	// Request is the completion request. Model is only honored on the
	// preferred provider; fallbacks use their own default model.
	Request Request
}

// Result pairs a completion with the provider that produced it.
type Result struct {
	Completion *Completion
	Provider   ID
}

// Executor routes completion calls to providers with failover.
//
// Each provider gets a single owning goroutine consuming a job queue, so
// concurrent calls to one provider serialize in arrival order. A provider
// that fails is put on cooldown and the call moves to the next candidate.
// Throttling earns backoff retries on the same provider first.
type Executor struct {
	invokers   map[ID]Invoker
	usage      *UsageTracker
	fastModels map[ID]string

	cooldown   time.Duration
	maxRetries int
	baseDelay  time.Duration

	mu        sync.Mutex
	coolUntil map[ID]time.Time

	queues map[ID]chan *job
	done   chan struct{}
	wg     sync.WaitGroup

	// now and sleep are swappable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type job struct {
	ctx   context.Context
	req   Request
	reply chan jobResult
}

type jobResult struct {
	completion *Completion
	err        error
}

// NewExecutor creates an executor and starts one queue goroutine per provider.
// Call Close to stop them.
func NewExecutor(cfg ExecutorConfig) *Executor {
	e := &Executor{
		invokers:   cfg.Invokers,
		usage:      cfg.Usage,
		fastModels: cfg.FastModels,
		cooldown:   cfg.Cooldown,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		coolUntil:  make(map[ID]time.Time),
		queues:     make(map[ID]chan *job),
		done:       make(chan struct{}),
		now:        time.Now,
		sleep:      sleepCtx,
	}
	if e.cooldown == 0 {
		e.cooldown = defaultCooldown
	}
	if e.maxRetries == 0 {
		e.maxRetries = defaultMaxRetries
	}
	if e.baseDelay == 0 {
		e.baseDelay = defaultBaseDelay
	}

	for id, inv := range e.invokers {
		q := make(chan *job, 64)
		e.queues[id] = q
		e.wg.Add(1)
		go e.runQueue(id, inv, q)
	}
	return e
}

// Close stops all provider queues after in-flight jobs finish.
func (e *Executor) Close() {
	close(e.done)
	e.wg.Wait()
}

// runQueue is the single owner of one provider. Jobs run strictly in
// arrival order, so backoff sleeps also hold back queued work while the
// provider is throttled.
func (e *Executor) runQueue(id ID, inv Invoker, q chan *job) {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case j := <-q:
			completion, err := e.invokeWithRetry(j.ctx, id, inv, j.req)
			j.reply <- jobResult{completion: completion, err: err}
		}
	}
}

// invokeWithRetry calls the provider, backing off and retrying on throttling.
// Delays double from the base per attempt. Non-throttle errors return at once.
func (e *Executor) invokeWithRetry(ctx context.Context, id ID, inv Invoker, req Request) (*Completion, error) {
	var lastErr error
	delay := e.baseDelay
	for attempt := 0; ; attempt++ {
		completion, err := inv.Invoke(ctx, req)
		if err == nil {
			return completion, nil
		}
		lastErr = err

		var pe *Error
		if !errors.As(err, &pe) || !pe.Retryable() || attempt >= e.maxRetries {
			return nil, lastErr
		}

		log.Printf("[provider] %s throttled, retry %d/%d in %s", id, attempt+1, e.maxRetries, delay)
		if err := e.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay *= 2
	}
}

// Execute routes one call: preferred provider first, then its fallbacks,
// skipping providers on cooldown. If the whole chain is cooling, it waits
// for the soonest cooldown to expire and uses that provider.
func (e *Executor) Execute(ctx context.Context, call Call) (*Result, error) {
	chain := append([]ID{call.Provider}, Fallbacks(call.Provider)...)

	var lastErr error
	tried := make(map[ID]bool)
	for {
		id, ok := e.nextAvailable(chain, tried)
		if !ok {
			if len(tried) == len(chain) {
				// Whole chain failed this round.
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, fmt.Errorf("no providers configured for %s", call.Provider)
			}
			// Untried providers exist but all are cooling. Wait out
			// the soonest cooldown and take that provider.
			id, ok = e.soonestCooling(chain, tried)
			if !ok {
				return nil, fmt.Errorf("no providers configured for %s", call.Provider)
			}
			if err := e.waitForCooldown(ctx, id); err != nil {
				return nil, err
			}
		}
		tried[id] = true

		req := call.Request
		if id != call.Provider {
			// Fallbacks run their own default model.
			req.Model = ""
		}
		if call.Fast {
			// Fast calls trade the bound model for the provider's cheap
			// one wherever a cheap one is configured.
			if fast, ok := e.fastModels[id]; ok {
				req.Model = fast
			}
		}

		completion, err := e.submit(ctx, id, req)
		if err == nil {
			if e.usage != nil {
				e.usage.Record(id, completion.modelOrDefault(req, e.invokers[id]), call.Worker,
					completion.InputTokens, completion.OutputTokens)
			}
			return &Result{Completion: completion, Provider: id}, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}

		lastErr = err
		e.markCooldown(id)
		log.Printf("[provider] %s failed (%s), cooling %s and failing over", id, Summary(err), e.cooldown)
	}
}

// submit enqueues a job on the provider's queue and waits for the result.
func (e *Executor) submit(ctx context.Context, id ID, req Request) (*Completion, error) {
	q, ok := e.queues[id]
	if !ok {
		return nil, fmt.Errorf("provider %s is not configured", id)
	}
	j := &job{ctx: ctx, req: req, reply: make(chan jobResult, 1)}
	select {
	case q <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		return nil, fmt.Errorf("executor closed")
	}
	select {
	case res := <-j.reply:
		return res.completion, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// nextAvailable returns the first configured, untried, non-cooling provider.
func (e *Executor) nextAvailable(chain []ID, tried map[ID]bool) (ID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	for _, id := range chain {
		if tried[id] {
			continue
		}
		if _, ok := e.invokers[id]; !ok {
			tried[id] = true
			continue
		}
		if until, cooling := e.coolUntil[id]; cooling && now.Before(until) {
			continue
		}
		return id, true
	}
	return "", false
}

// soonestCooling returns the untried provider whose cooldown expires first.
func (e *Executor) soonestCooling(chain []ID, tried map[ID]bool) (ID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var best ID
	var bestAt time.Time
	found := false
	for _, id := range chain {
		if tried[id] {
			continue
		}
		if _, ok := e.invokers[id]; !ok {
			continue
		}
		until := e.coolUntil[id]
		if !found || until.Before(bestAt) {
			best, bestAt, found = id, until, true
		}
	}
	return best, found
}

// waitForCooldown blocks until the provider's cooldown expires.
func (e *Executor) waitForCooldown(ctx context.Context, id ID) error {
	e.mu.Lock()
	until := e.coolUntil[id]
	e.mu.Unlock()

	wait := until.Sub(e.now())
	if wait <= 0 {
		return nil
	}
	log.Printf("[provider] all providers cooling, waiting %s for %s", wait.Round(time.Second), id)
	return e.sleep(ctx, wait)
}

// markCooldown puts a provider out of rotation for the cooldown window.
func (e *Executor) markCooldown(id ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.coolUntil[id] = e.now().Add(e.cooldown)
}

// Cooling reports whether a provider is currently on cooldown.
func (e *Executor) Cooling(id ID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.coolUntil[id]
	return ok && e.now().Before(until)
}

// modelOrDefault names the model a completion was served by, for usage
// attribution.
func (c *Completion) modelOrDefault(req Request, inv Invoker) string {
	if req.Model != "" {
		return req.Model
	}
	if inv != nil {
		return inv.DefaultModel()
	}
	return "unknown"
}

// sleepCtx sleeps for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
