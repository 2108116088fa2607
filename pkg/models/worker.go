// Package models defines the shared data types for the hive orchestration core.
package models

import "time"

// Role identifies a worker on the fixed roster.
type Role string

const (
	// RoleCoordinator is the hub worker that delegates and synthesizes.
	RoleCoordinator Role = "coordinator"
	// RoleDev is the software engineering specialist.
	RoleDev Role = "dev"
	// RoleDesign is the UI/UX specialist.
	RoleDesign Role = "design"
	// RoleSupport is the customer support specialist.
	RoleSupport Role = "support"
	// RoleGrowth is the marketing specialist.
	RoleGrowth Role = "growth"
)

// Roster is the fixed set of roles, coordinator first.
var Roster = []Role{RoleCoordinator, RoleDev, RoleDesign, RoleSupport, RoleGrowth}

// Specialists is the roster without the coordinator.
var Specialists = []Role{RoleDev, RoleDesign, RoleSupport, RoleGrowth}

// Valid returns true if the role is a known roster member.
func (r Role) Valid() bool {
	switch r {
	case RoleCoordinator, RoleDev, RoleDesign, RoleSupport, RoleGrowth:
		return true
	default:
		return false
	}
}

// IsSpecialist returns true for every valid role except the coordinator.
func (r Role) IsSpecialist() bool {
	return r.Valid() && r != RoleCoordinator
}

// SubRole is the currently active working mode of a worker.
type SubRole string

const (
	SubRoleOverseer     SubRole = "overseer"
	SubRoleAuditor      SubRole = "auditor"
	SubRoleDevArchitect SubRole = "dev-architect"
	SubRoleDevBuilder   SubRole = "dev-builder"
	SubRoleDevRefactor  SubRole = "dev-refactor"
	SubRoleDesigner     SubRole = "designer"
	SubRoleSupportAgent SubRole = "support-agent"
	SubRoleContent      SubRole = "growth-content"
	SubRoleFunnel       SubRole = "growth-funnel"
	SubRoleData         SubRole = "growth-data"
)

// PermissionSet describes what a sub-role is allowed to do.
// The zero value grants nothing.
type PermissionSet struct {
	ModifyCode     bool
	Analyze        bool
	Deploy         bool
	Dispatch       bool
	AccessTickets  bool
	AccessData     bool
	ApproveRelease bool
}

// SubRolePermissions maps every sub-role to its permission set.
var SubRolePermissions = map[SubRole]PermissionSet{
	SubRoleOverseer:     {Analyze: true, Dispatch: true, AccessTickets: true, AccessData: true, ApproveRelease: true},
	SubRoleAuditor:      {Analyze: true, AccessData: true},
	SubRoleDevArchitect: {Analyze: true},
	SubRoleDevBuilder:   {ModifyCode: true},
	SubRoleDevRefactor:  {ModifyCode: true, Analyze: true},
	SubRoleDesigner:     {Analyze: true},
	SubRoleSupportAgent: {AccessTickets: true},
	SubRoleContent:      {AccessData: true},
	SubRoleFunnel:       {AccessData: true},
	SubRoleData:         {AccessData: true},
}

// Permissions returns the permission set for a sub-role.
func (s SubRole) Permissions() PermissionSet {
	return SubRolePermissions[s]
}

// DefaultSubRoles maps each role to its startup sub-role.
var DefaultSubRoles = map[Role]SubRole{
	RoleCoordinator: SubRoleOverseer,
	RoleDev:         SubRoleDevBuilder,
	RoleDesign:      SubRoleDesigner,
	RoleSupport:     SubRoleSupportAgent,
	RoleGrowth:      SubRoleContent,
}

// AvailableSubRoles maps each role to the sub-roles it may switch into.
var AvailableSubRoles = map[Role][]SubRole{
	RoleCoordinator: {SubRoleOverseer, SubRoleAuditor},
	RoleDev:         {SubRoleDevArchitect, SubRoleDevBuilder, SubRoleDevRefactor},
	RoleDesign:      {SubRoleDesigner},
	RoleSupport:     {SubRoleSupportAgent},
	RoleGrowth:      {SubRoleContent, SubRoleFunnel, SubRoleData},
}

// Message is one entry of a worker's rolling conversation history.
type Message struct {
	// Role is "user" or "assistant".
	Role string `json:"role"`
	// Content is the plain text of the message.
	Content string `json:"content"`
}

// InboundMessage is one message broadcast from the shared channel to every
// worker.
type InboundMessage struct {
	// ChannelID identifies the originating channel.
	ChannelID string
	// SenderName is the display name of the sender.
	SenderName string
	// ID is the transport-assigned message identifier.
	ID int64
	// Text is the message body.
	Text string
	// FromWorker is true when another roster worker sent the message.
	FromWorker bool
	// ReceivedAt is when the message entered the core.
	ReceivedAt time.Time
}
