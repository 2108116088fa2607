package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// UsageTracker accumulates token usage per provider, model, and worker.
// Counters reset when the calendar day rolls over.
type UsageTracker struct {
	mu      sync.Mutex
	day     string
	entries map[string]*usageEntry
}

type usageEntry struct {
	provider  ID
	model     string
	worker    string
	inputTok  int64
	outputTok int64
	calls     int
}

// NewUsageTracker creates an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{
		day:     time.Now().Format("2006-01-02"),
		entries: make(map[string]*usageEntry),
	}
}

// Record adds one call's token usage.
func (t *UsageTracker) Record(provider ID, model, worker string, input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()

	key := string(provider) + "|" + model + "|" + worker
	e, ok := t.entries[key]
	if !ok {
		e = &usageEntry{provider: provider, model: model, worker: worker}
		t.entries[key] = e
	}
	e.inputTok += input
	e.outputTok += output
	e.calls++
}

// rollover clears counters when the day changes. Caller holds the lock.
func (t *UsageTracker) rollover() {
	today := time.Now().Format("2006-01-02")
	if today != t.day {
		t.day = today
		t.entries = make(map[string]*usageEntry)
	}
}

// Totals returns the day's aggregate input and output tokens and call count.
func (t *UsageTracker) Totals() (input, output int64, calls int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	for _, e := range t.entries {
		input += e.inputTok
		output += e.outputTok
		calls += e.calls
	}
	return input, output, calls
}

// Report renders a sorted plain-text usage summary for the current day.
func (t *UsageTracker) Report() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()

	if len(t.entries) == 0 {
		return fmt.Sprintf("No usage recorded for %s.", t.day)
	}

	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "Token usage for %s\n", t.day)
	var totalIn, totalOut int64
	var totalCalls int
	for _, k := range keys {
		e := t.entries[k]
		fmt.Fprintf(&b, "  %-10s %-34s %-12s calls=%-4d in=%-8d out=%d\n",
			e.provider, e.model, e.worker, e.calls, e.inputTok, e.outputTok)
		totalIn += e.inputTok
		totalOut += e.outputTok
		totalCalls += e.calls
	}
	fmt.Fprintf(&b, "  total: calls=%d in=%d out=%d", totalCalls, totalIn, totalOut)
	return b.String()
}
