package models

import "testing"

func TestRole_Valid(t *testing.T) {
	tests := []struct {
		name string
		role Role
		want bool
	}{
		{"coordinator is valid", RoleCoordinator, true},
		{"dev is valid", RoleDev, true},
		{"design is valid", RoleDesign, true},
		{"support is valid", RoleSupport, true},
		{"growth is valid", RoleGrowth, true},
		{"empty string is invalid", Role(""), false},
		{"unknown role is invalid", Role("intern"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.role.Valid(); got != tt.want {
				t.Errorf("Role(%q).Valid() = %v, want %v", tt.role, got, tt.want)
			}
		})
	}
}

func TestRole_IsSpecialist(t *testing.T) {
	if RoleCoordinator.IsSpecialist() {
		t.Error("coordinator must not be a specialist")
	}
	for _, r := range Specialists {
		if !r.IsSpecialist() {
			t.Errorf("%q should be a specialist", r)
		}
	}
	if Role("intern").IsSpecialist() {
		t.Error("invalid role must not be a specialist")
	}
}

func TestSubRole_Permissions(t *testing.T) {
	tests := []struct {
		name    string
		subRole SubRole
		check   func(PermissionSet) bool
	}{
		{"overseer can dispatch", SubRoleOverseer, func(p PermissionSet) bool { return p.Dispatch }},
		{"overseer can approve release", SubRoleOverseer, func(p PermissionSet) bool { return p.ApproveRelease }},
		{"auditor cannot modify code", SubRoleAuditor, func(p PermissionSet) bool { return !p.ModifyCode }},
		{"auditor cannot dispatch", SubRoleAuditor, func(p PermissionSet) bool { return !p.Dispatch }},
		{"builder can modify code", SubRoleDevBuilder, func(p PermissionSet) bool { return p.ModifyCode }},
		{"architect cannot modify code", SubRoleDevArchitect, func(p PermissionSet) bool { return !p.ModifyCode }},
		{"support agent reaches tickets", SubRoleSupportAgent, func(p PermissionSet) bool { return p.AccessTickets }},
		{"unknown sub-role grants nothing", SubRole("ghost"), func(p PermissionSet) bool { return p == PermissionSet{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(tt.subRole.Permissions()) {
				t.Errorf("permission check failed for %q: %+v", tt.subRole, tt.subRole.Permissions())
			}
		})
	}
}

func TestDefaultSubRoles_CoverRoster(t *testing.T) {
	for _, r := range Roster {
		def, ok := DefaultSubRoles[r]
		if !ok {
			t.Fatalf("role %q has no default sub-role", r)
		}
		found := false
		for _, avail := range AvailableSubRoles[r] {
			if avail == def {
				found = true
			}
		}
		if !found {
			t.Errorf("default sub-role %q for %q is not in its available set", def, r)
		}
	}
}

func TestMissionStatus_Valid(t *testing.T) {
	valid := []MissionStatus{
		MissionPlanning, MissionDispatched, MissionInProgress,
		MissionSynthesizing, MissionCompleted, MissionFailed,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("MissionStatus(%q).Valid() = false, want true", s)
		}
	}
	if MissionStatus("paused").Valid() {
		t.Error("unknown mission status must be invalid")
	}
}

func TestStage_Valid(t *testing.T) {
	for _, s := range Stages {
		if !s.Valid() {
			t.Errorf("Stage(%q).Valid() = false, want true", s)
		}
	}
	if Stage("review").Valid() {
		t.Error("unknown stage must be invalid")
	}
}
