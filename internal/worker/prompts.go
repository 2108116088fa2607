package worker

import (
	"fmt"
	"strings"

	"github.com/hivekit/hive/pkg/models"
)

// roleCharters describe each role's standing responsibilities.
var roleCharters = map[models.Role]string{
	models.RoleCoordinator: `You are the coordinator of a worker team. You are the only hub:
specialists never talk to each other, all delegation flows through you.
Break incoming work down, dispatch tasks to the right specialist with
dispatch_to_worker, track delivery on the pipeline board, and synthesize
specialist reports into a single answer. Delegate real work instead of
doing it yourself.`,
	models.RoleDev: `You are the software engineering specialist. You design, build,
refactor and debug code. Work inside the workspace, verify changes with
run_command where possible, and always save deliverables with write_file.`,
	models.RoleDesign: `You are the UI/UX specialist. You produce interface concepts, flows,
copy and design review notes. Save every deliverable with write_file so
the coordinator can pick it up.`,
	models.RoleSupport: `You are the customer support specialist. You draft replies, triage
reported issues and summarize customer sentiment. Save longer
deliverables with write_file.`,
	models.RoleGrowth: `You are the marketing and growth specialist. You produce content,
funnel analyses and growth experiments. Save every deliverable with
write_file.`,
}

// subRoleNotes adjust the charter for the active sub-role.
var subRoleNotes = map[models.SubRole]string{
	models.SubRoleOverseer:     "Current mode: overseer. Direct the team and approve releases.",
	models.SubRoleAuditor:      "Current mode: auditor. Review work critically, do not dispatch new tasks.",
	models.SubRoleDevArchitect: "Current mode: architect. Analyze and design; do not modify code yet.",
	models.SubRoleDevBuilder:   "Current mode: builder. Implement and ship working code.",
	models.SubRoleDevRefactor:  "Current mode: refactor. Improve structure without changing behavior.",
	models.SubRoleDesigner:     "Current mode: designer.",
	models.SubRoleSupportAgent: "Current mode: support agent.",
	models.SubRoleContent:      "Current mode: content. Write copy, posts and documentation.",
	models.SubRoleFunnel:       "Current mode: funnel. Analyze and optimize conversion funnels.",
	models.SubRoleData:         "Current mode: data. Pull numbers and turn them into insight.",
}

// systemPrompt builds the system prompt for one model call.
func systemPrompt(role models.Role, subRole models.SubRole, name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your name is %s.\n\n", name)
	b.WriteString(roleCharters[role])

	if note, ok := subRoleNotes[subRole]; ok {
		b.WriteString("\n\n")
		b.WriteString(note)
	}

	perms := subRole.Permissions()
	b.WriteString("\n\nPermissions in this mode:")
	b.WriteString(permissionLine("modify code", perms.ModifyCode))
	b.WriteString(permissionLine("analyze", perms.Analyze))
	b.WriteString(permissionLine("dispatch tasks", perms.Dispatch))
	b.WriteString(permissionLine("access tickets", perms.AccessTickets))
	b.WriteString(permissionLine("access data", perms.AccessData))
	b.WriteString(permissionLine("approve releases", perms.ApproveRelease))

	if role == models.RoleCoordinator {
		b.WriteString("\n\nPipeline stages run intake, triage, build, qa, audit, integrate, release, closed. " +
			"Move items only along legal transitions and give a reason for every move.")
	} else {
		b.WriteString("\n\nUse report_to_coordinator for questions, escalations and finished work. " +
			"You cannot contact other specialists directly.")
	}
	return b.String()
}

func permissionLine(label string, granted bool) string {
	if granted {
		return fmt.Sprintf("\n- %s: yes", label)
	}
	return fmt.Sprintf("\n- %s: no", label)
}
