package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/hivekit/hive/internal/arbiter"
	"github.com/hivekit/hive/internal/bus"
	"github.com/hivekit/hive/internal/config"
	"github.com/hivekit/hive/internal/dispatch"
	"github.com/hivekit/hive/internal/exec"
	"github.com/hivekit/hive/internal/mission"
	"github.com/hivekit/hive/internal/pipeline"
	"github.com/hivekit/hive/internal/provider"
	"github.com/hivekit/hive/internal/signals"
	"github.com/hivekit/hive/internal/state"
	"github.com/hivekit/hive/internal/worker"
	"github.com/hivekit/hive/pkg/models"
)

// app holds every wired subsystem for one session.
type app struct {
	cfg      *config.Config
	roster   *config.Roster
	usage    *provider.UsageTracker
	executor *provider.Executor
	db       *state.DB
	signals  *signals.Watcher
	graph    *dispatch.Graph
	pipeline *pipeline.Engine
	workers  map[models.Role]*worker.Worker
	arbiter  *arbiter.Arbiter
	router   *bus.Router
	deliver  *bus.ConsoleDeliverer
	backends *mission.Backends
	missions *mission.Manager

	// session tags this process's chat channel.
	session string
}

// buildApp wires the full stack: providers, workers, chat routing,
// the dispatch graph, the pipeline, and mission orchestration.
func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	roster, err := loadRoster()
	if err != nil {
		return nil, err
	}

	invokers, err := buildInvokers(cfg)
	if err != nil {
		return nil, err
	}

	usage := provider.NewUsageTracker()
	executor := provider.NewExecutor(provider.ExecutorConfig{
		Invokers: invokers,
		Usage:    usage,
		FastModels: map[provider.ID]string{
			provider.AnthropicID: cfg.Providers.Anthropic.FastModel,
		},
	})

	db, err := openProjectDB()
	if err != nil {
		executor.Close()
		return nil, err
	}

	sig, err := signals.New(cfg.Workspace.SignalsDir)
	if err != nil {
		executor.Close()
		db.Close()
		return nil, fmt.Errorf("signal watcher: %w", err)
	}

	session := uuid.New().String()[:8]

	names := make(map[string]models.Role, len(roster.Workers))
	for _, entry := range roster.Workers {
		names[entry.Name] = entry.Role
	}
	deliver := bus.NewConsoleDeliverer(names)
	notify := &channelNotifier{deliver: deliver, channel: session}

	pipe := pipeline.New(db)
	graph := dispatch.NewGraph(notify)

	toolbox := &worker.Toolbox{
		WorkDir:  cfg.Workspace.WorkDir,
		Runner:   exec.NewRunner(),
		Graph:    graph,
		Pipeline: pipe,
	}

	workers := make(map[models.Role]*worker.Worker, len(roster.Workers))
	for _, entry := range roster.Workers {
		w := worker.New(entry, executor, toolbox)
		workers[entry.Role] = w
		graph.Register(w)
	}

	arb := arbiter.New(arbiter.Config{
		Keywords: roster.Keywords(),
		Expected: len(roster.Workers),
	})

	router := bus.NewRouter(bus.RouterConfig{
		Arbiter:   arb,
		Deliver:   deliver,
		BotBurst:  cfg.Chat.BotBurst,
		BotWindow: cfg.Chat.BotWindow,
	})
	for _, w := range workers {
		router.Register(w)
	}

	llm := &workerLLM{executor: executor, roster: roster}
	backends := mission.NewBackends(exec.NewRunner(), cfg.Mission.BackendTimeouts)
	squads := mission.NewSquadRunner(llm, &workerLooper{workers: workers}, backends)

	missions, err := mission.NewManager(mission.ManagerConfig{
		LLM:      llm,
		Squads:   squads,
		Store:    db,
		Notifier: notify,
		Stopper:  sig,
	})
	if err != nil {
		arb.Close()
		sig.Close()
		executor.Close()
		db.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		roster:   roster,
		usage:    usage,
		executor: executor,
		db:       db,
		signals:  sig,
		graph:    graph,
		pipeline: pipe,
		workers:  workers,
		arbiter:  arb,
		router:   router,
		deliver:  deliver,
		backends: backends,
		missions: missions,
		session:  session,
	}, nil
}

// close shuts subsystems down in dependency order.
func (a *app) close() {
	a.arbiter.Close()
	a.signals.Close()
	a.executor.Close()
	if err := a.db.Close(); err != nil {
		log.Printf("[hive] close database: %v", err)
	}
}

// loadRoster reads the roster named by --roster, or falls back to defaults.
func loadRoster() (*config.Roster, error) {
	if rosterPath == "" {
		return config.DefaultRoster(), nil
	}
	roster, err := config.LoadRoster(rosterPath)
	if err != nil {
		return nil, err
	}
	return roster, nil
}

// buildInvokers creates a client per configured provider. At least one
// provider must be usable.
func buildInvokers(cfg *config.Config) (map[provider.ID]provider.Invoker, error) {
	invokers := make(map[provider.ID]provider.Invoker)

	if cfg.Providers.Anthropic.APIKey != "" ||
		os.Getenv("ANTHROPIC_API_KEY") != "" ||
		cfg.Providers.Anthropic.UseAWSBedrock {
		inv, err := provider.NewAnthropicInvoker(provider.AnthropicConfig{
			Model:         anthropic.Model(cfg.Providers.Anthropic.Model),
			APIKey:        cfg.Providers.Anthropic.APIKey,
			UseAWSBedrock: cfg.Providers.Anthropic.UseAWSBedrock,
			AWSRegion:     cfg.Providers.Anthropic.AWSRegion,
			AWSProfile:    cfg.Providers.Anthropic.AWSProfile,
		})
		if err != nil {
			log.Printf("[hive] anthropic unavailable: %v", err)
		} else {
			invokers[provider.AnthropicID] = inv
		}
	}

	if cfg.Providers.OpenAI.APIKey != "" {
		inv, err := provider.NewCompatInvoker(provider.CompatConfig{
			Provider: provider.OpenAIID,
			Model:    cfg.Providers.OpenAI.Model,
			APIKey:   cfg.Providers.OpenAI.APIKey,
			BaseURL:  cfg.Providers.OpenAI.BaseURL,
		})
		if err != nil {
			log.Printf("[hive] openai unavailable: %v", err)
		} else {
			invokers[provider.OpenAIID] = inv
		}
	}

	if cfg.Providers.Gemini.APIKey != "" {
		inv, err := provider.NewCompatInvoker(provider.CompatConfig{
			Provider: provider.GeminiID,
			Model:    cfg.Providers.Gemini.Model,
			APIKey:   cfg.Providers.Gemini.APIKey,
			BaseURL:  cfg.Providers.Gemini.BaseURL,
		})
		if err != nil {
			log.Printf("[hive] gemini unavailable: %v", err)
		} else {
			invokers[provider.GeminiID] = inv
		}
	}

	if len(invokers) == 0 {
		return nil, fmt.Errorf("no provider configured; set ANTHROPIC_API_KEY, OPENAI_API_KEY, or GEMINI_API_KEY")
	}
	return invokers, nil
}

// openProjectDB opens and migrates the per-project state database.
func openProjectDB() (*state.DB, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	db, err := state.Open(state.ProjectDBPath(cwd))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// channelNotifier prints system notices into the session channel.
type channelNotifier struct {
	deliver *bus.ConsoleDeliverer
	channel string
}

func (n *channelNotifier) Notify(text string) {
	n.deliver.Deliver(n.channel, "system", text)
}

// workerLLM adapts the provider executor to mission planning calls.
// Each role's roster entry picks the provider and model.
type workerLLM struct {
	executor *provider.Executor
	roster   *config.Roster
}

func (l *workerLLM) Complete(ctx context.Context, role models.Role, system, user string) (string, error) {
	entry, ok := l.roster.Entry(role)
	if !ok {
		return "", fmt.Errorf("no roster entry for role %s", role)
	}
	res, err := l.executor.Execute(ctx, provider.Call{
		Provider: provider.ID(entry.Provider),
		Worker:   entry.Name,
		Request: provider.Request{
			Model:  entry.Model,
			System: system,
			Messages: []provider.ChatMessage{
				{Role: "user", Content: user},
			},
		},
	})
	if err != nil {
		return "", err
	}
	return res.Completion.Text, nil
}

// workerLooper runs mission sub-tasks through a specialist's full tool
// loop. Each sub-task gets a fresh worker instance; the long-lived chat
// workers keep their own histories and parallel sub-tasks must not
// interleave turns in a shared one.
type workerLooper struct {
	workers map[models.Role]*worker.Worker
}

func (l *workerLooper) Loop(ctx context.Context, role models.Role, prompt string) (string, error) {
	w, ok := l.workers[role]
	if !ok {
		return "", fmt.Errorf("no worker for role %s", role)
	}
	return w.Fresh().Respond(ctx, prompt, true)
}
