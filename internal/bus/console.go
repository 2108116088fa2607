package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/hivekit/hive/pkg/models"
)

// roleColors picks a stable color per role for console output.
var roleColors = map[models.Role]color.Attribute{
	models.RoleCoordinator: color.FgCyan,
	models.RoleDev:         color.FgGreen,
	models.RoleDesign:      color.FgMagenta,
	models.RoleSupport:     color.FgYellow,
	models.RoleGrowth:      color.FgBlue,
}

// ConsoleDeliverer prints worker replies to stdout, one color per worker.
type ConsoleDeliverer struct {
	mu     sync.Mutex
	colors map[string]*color.Color
}

// NewConsoleDeliverer builds a deliverer with colors assigned from the
// roster.
func NewConsoleDeliverer(names map[string]models.Role) *ConsoleDeliverer {
	colors := make(map[string]*color.Color, len(names))
	for name, role := range names {
		attr, ok := roleColors[role]
		if !ok {
			attr = color.FgWhite
		}
		colors[name] = color.New(attr, color.Bold)
	}
	return &ConsoleDeliverer{colors: colors}
}

// Deliver prints one worker message with a timestamp and colored name.
func (c *ConsoleDeliverer) Deliver(channelID, workerName, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	label := workerName
	if cl, ok := c.colors[workerName]; ok {
		label = cl.Sprint(workerName)
	}
	fmt.Printf("%s [%s] %s: %s\n", time.Now().Format("15:04:05"), channelID, label, text)
}
