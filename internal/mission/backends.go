package mission

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hivekit/hive/internal/exec"
)

// backendOutputCap bounds what one external CLI run may return.
const backendOutputCap = 10000

// probeTimeout bounds the availability check for one backend.
const probeTimeout = 10 * time.Second

// backendDef describes one external execution CLI.
type backendDef struct {
	command string
	timeout time.Duration
}

// defaultBackendTimeouts apply when the config names none.
var defaultBackendTimeouts = map[string]time.Duration{
	"chatgpt":    120 * time.Second,
	"gemini-cli": 90 * time.Second,
}

// backendCommands maps backend ids to the CLI they shell out to.
var backendCommands = map[string]string{
	"chatgpt":    "chatgpt",
	"gemini-cli": "gemini",
}

// ErrBackendUnavailable marks a backend whose CLI is not installed.
var ErrBackendUnavailable = fmt.Errorf("backend unavailable")

// Backends runs sub-tasks through external AI CLIs in headless mode.
// Availability is probed once at startup; an unavailable backend makes
// Execute fail fast so the squad can fall back to its own loop.
type Backends struct {
	runner exec.CommandRunner

	mu        sync.RWMutex
	defs      map[string]backendDef
	available map[string]bool
}

// NewBackends builds the fixed backend set. Timeouts override the
// defaults per backend id.
func NewBackends(runner exec.CommandRunner, timeouts map[string]time.Duration) *Backends {
	defs := make(map[string]backendDef, len(backendCommands))
	for id, command := range backendCommands {
		timeout := defaultBackendTimeouts[id]
		if t, ok := timeouts[id]; ok && t > 0 {
			timeout = t
		}
		defs[id] = backendDef{command: command, timeout: timeout}
	}
	return &Backends{
		runner:    runner,
		defs:      defs,
		available: make(map[string]bool),
	}
}

// Probe checks each backend CLI with --version, then --help for CLIs
// that lack a version flag.
func (b *Backends) Probe(ctx context.Context) {
	for id, def := range b.defs {
		ok := b.probeOne(ctx, def.command, "--version") || b.probeOne(ctx, def.command, "--help")
		b.mu.Lock()
		b.available[id] = ok
		b.mu.Unlock()
		if ok {
			log.Printf("[mission] backend %s available", id)
		} else {
			log.Printf("[mission] backend %s not found, sub-tasks fall back to self", id)
		}
	}
}

func (b *Backends) probeOne(ctx context.Context, command, flag string) bool {
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	_, err := b.runner.Run(pctx, "", command, flag)
	return err == nil
}

// Available lists the usable backend ids, sorted.
func (b *Backends) Available() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.available))
	for id, ok := range b.available {
		if ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// IsAvailable reports whether one backend probed successfully.
func (b *Backends) IsAvailable(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.available[id]
}

// Valid reports whether id names a known backend.
func (b *Backends) Valid(id string) bool {
	_, ok := b.defs[id]
	return ok
}

// Execute runs one task prompt through a backend CLI and returns its
// combined output, capped at backendOutputCap.
func (b *Backends) Execute(ctx context.Context, id, task string) (string, error) {
	def, ok := b.defs[id]
	if !ok {
		return "", fmt.Errorf("unknown backend %q", id)
	}
	if !b.IsAvailable(id) {
		return "", fmt.Errorf("%w: %s", ErrBackendUnavailable, id)
	}

	log.Printf("[mission] backend %s executing: %.80s", id, task)
	cctx, cancel := context.WithTimeout(ctx, def.timeout)
	defer cancel()
	out, err := b.runner.Run(cctx, "", def.command, "-p", task)
	text := strings.TrimSpace(exec.Truncate(string(out), backendOutputCap))
	if err != nil {
		return "", fmt.Errorf("backend %s failed: %w", id, err)
	}
	return text, nil
}
