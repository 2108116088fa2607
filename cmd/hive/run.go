package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hivekit/hive/internal/version"
	"github.com/hivekit/hive/pkg/models"
)

// probeTimeout bounds the startup check for external mission backends.
const probeTimeout = 15 * time.Second

// runChat starts the interactive session: stdin lines become channel
// messages, slash commands hit the orchestration surfaces directly.
func runChat() error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	probeCtx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	app.backends.Probe(probeCtx)
	cancel()

	printBanner(app)

	ctx := context.Background()
	scanner := bufio.NewScanner(os.Stdin)
	var msgID int64

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		if app.signals.ShouldStop() {
			fmt.Println("stop signal received, shutting down")
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if app.signals.ShouldPause() {
			fmt.Println("session paused; remove the pause signal file to resume")
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := app.handleCommand(ctx, line); quit {
				break
			}
			continue
		}

		msgID++
		app.router.OnMessage(ctx, models.InboundMessage{
			ChannelID:  app.session,
			SenderName: "operator",
			ID:         msgID,
			Text:       line,
			FromWorker: false,
			ReceivedAt: time.Now(),
		})
	}
	return scanner.Err()
}

func printBanner(a *app) {
	fmt.Printf("hive %s  session %s\n", version.Get(), a.session)

	names := make([]string, 0, len(a.roster.Workers))
	for _, entry := range a.roster.Workers {
		names = append(names, fmt.Sprintf("%s (%s)", entry.Name, entry.Role))
	}
	fmt.Printf("roster: %s\n", strings.Join(names, ", "))

	if backends := a.backends.Available(); len(backends) > 0 {
		fmt.Printf("mission backends: %s\n", strings.Join(backends, ", "))
	} else {
		fmt.Println("mission backends: none (squads run in-house)")
	}
	fmt.Println("type a message, or /help for commands")
}

// handleCommand runs one slash command. Returns true on /quit.
func (a *app) handleCommand(ctx context.Context, line string) bool {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Print(`commands:
  /mission <instruction>   plan and launch a mission
  /missions                list missions
  /sstatus <mission-id>    per-squad detail for a mission
  /pipeline                pipeline board
  /usage                   token usage by provider and worker
  /quit                    exit
`)

	case "/mission":
		if rest == "" {
			fmt.Println("usage: /mission <instruction>")
			break
		}
		m, err := a.missions.Create(ctx, rest, "operator", a.session)
		if err != nil {
			fmt.Printf("mission planning failed: %v\n", err)
			break
		}
		fmt.Printf("%s launched with %d squads\n", m.ID, len(m.Squads))
		go func(id string) {
			if err := a.missions.Execute(context.Background(), id); err != nil {
				fmt.Printf("\n%s failed: %v\n> ", id, err)
			}
		}(m.ID)

	case "/missions":
		fmt.Println(a.missions.Status(rest))

	case "/sstatus":
		if rest == "" {
			fmt.Println("usage: /sstatus <mission-id>")
			break
		}
		fmt.Println(a.missions.SquadDetail(rest))

	case "/pipeline":
		fmt.Println(a.pipeline.Status())

	case "/usage":
		fmt.Println(a.usage.Report())

	default:
		fmt.Printf("unknown command %s; try /help\n", cmd)
	}
	return false
}
