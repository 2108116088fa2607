package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hivekit/hive/pkg/models"
)

// RosterEntry describes one worker: identity, binding, and topic keywords.
type RosterEntry struct {
	Role     models.Role    `yaml:"role"`
	Name     string         `yaml:"name"`
	SubRole  models.SubRole `yaml:"sub_role"`
	Provider string         `yaml:"provider"`
	Model    string         `yaml:"model"`
	Keywords []string       `yaml:"keywords"`
}

// Roster is the full worker lineup for a run.
type Roster struct {
	Workers []RosterEntry `yaml:"workers"`
}

// Validate checks the roster for unknown or duplicate roles.
func (r *Roster) Validate() error {
	seen := make(map[models.Role]bool)
	for _, w := range r.Workers {
		if !w.Role.Valid() {
			return fmt.Errorf("unknown role %q for worker %q", w.Role, w.Name)
		}
		if seen[w.Role] {
			return fmt.Errorf("duplicate role %q in roster", w.Role)
		}
		seen[w.Role] = true
		if w.SubRole != "" {
			allowed := false
			for _, sr := range models.AvailableSubRoles[w.Role] {
				if sr == w.SubRole {
					allowed = true
					break
				}
			}
			if !allowed {
				return fmt.Errorf("sub-role %q is not available to role %q", w.SubRole, w.Role)
			}
		}
	}
	if !seen[models.RoleCoordinator] {
		return fmt.Errorf("roster has no coordinator")
	}
	return nil
}

// Keywords returns the per-role keyword sets for arbitration.
func (r *Roster) Keywords() map[models.Role][]string {
	out := make(map[models.Role][]string, len(r.Workers))
	for _, w := range r.Workers {
		out[w.Role] = w.Keywords
	}
	return out
}

// Entry returns the roster entry for a role.
func (r *Roster) Entry(role models.Role) (RosterEntry, bool) {
	for _, w := range r.Workers {
		if w.Role == role {
			return w, true
		}
	}
	return RosterEntry{}, false
}

// LoadRoster reads a roster YAML file.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roster: %w", err)
	}
	roster := &Roster{}
	if err := yaml.Unmarshal(data, roster); err != nil {
		return nil, fmt.Errorf("parsing roster %s: %w", path, err)
	}
	if err := roster.Validate(); err != nil {
		return nil, err
	}
	return roster, nil
}

// DefaultRoster returns the built-in five-worker lineup.
func DefaultRoster() *Roster {
	return &Roster{Workers: []RosterEntry{
		{
			Role: models.RoleCoordinator, Name: "atlas",
			SubRole: models.SubRoleOverseer, Provider: "anthropic",
			Keywords: []string{
				"project", "plan", "schedule", "team", "status", "report",
				"pipeline", "release", "deploy", "integrate", "audit", "approve", "mission",
			},
		},
		{
			Role: models.RoleDev, Name: "forge",
			SubRole: models.SubRoleDevBuilder, Provider: "anthropic",
			Keywords: []string{
				"code", "develop", "bug", "api", "server", "git", "database", "db",
				"build", "test", "debug", "function", "error", "logic", "implement",
				"refactor", "backend", "frontend", "algorithm",
			},
		},
		{
			Role: models.RoleDesign, Name: "muse",
			SubRole: models.SubRoleDesigner, Provider: "gemini",
			Keywords: []string{
				"design", "ui", "ux", "wireframe", "color", "font", "css", "layout",
				"style", "icon", "figma", "mockup", "prototype", "interface",
				"responsive", "component", "visual",
			},
		},
		{
			Role: models.RoleSupport, Name: "echo",
			SubRole: models.SubRoleSupportAgent, Provider: "openai",
			Keywords: []string{
				"customer", "inquiry", "complaint", "refund", "faq", "feedback",
				"ticket", "support", "claim", "answer", "request",
			},
		},
		{
			Role: models.RoleGrowth, Name: "nova",
			SubRole: models.SubRoleContent, Provider: "openai",
			Keywords: []string{
				"marketing", "ad", "seo", "content", "campaign", "branding",
				"analytics", "trend", "promotion", "event", "social", "blog", "channel",
			},
		},
	}}
}
