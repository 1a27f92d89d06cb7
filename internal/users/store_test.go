package users

import (
	"encoding/json"
	"testing"
)

func TestMigrateBackfillsMissingFlags(t *testing.T) {
	raw := `{"passwordHash":"x","role":"user","permissions":{"canCompressBatch":true,"canDownloadBatch":true,"canMerge":false,"canConvertToPdf":true,"canEnhanceImage":false}}`
	var su storedUser
	if err := json.Unmarshal([]byte(raw), &su); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	su.Username = "alice"
	u := migrate(su)
	if !u.Permissions.CanExtract {
		t.Error("missing canExtract should default to true")
	}
	if u.Permissions.CanMerge {
		t.Error("explicit false must be preserved")
	}
	if !u.Permissions.CanDownloadBatch {
		t.Error("explicit true must be preserved")
	}
}

func TestMigrateAdminAlwaysFullPermissions(t *testing.T) {
	raw := `{"passwordHash":"x","role":"admin","permissions":{"canMerge":false,"canExtract":false}}`
	var su storedUser
	if err := json.Unmarshal([]byte(raw), &su); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	u := migrate(su)
	if u.Permissions != FullPermissions() {
		t.Errorf("admin permissions = %+v, want full", u.Permissions)
	}
}

func TestMigrateUnknownRoleFallsBackToUser(t *testing.T) {
	u := migrate(storedUser{Username: "bob", Role: "owner"})
	if u.Role != RoleUser {
		t.Errorf("role = %q, want %q", u.Role, RoleUser)
	}
}

func TestAllowsUnknownCapability(t *testing.T) {
	if FullPermissions().Allows("teleport") {
		t.Error("unknown capability must be denied")
	}
}

func TestDefaultPermissionsDenyBatchDownload(t *testing.T) {
	p := DefaultPermissions()
	if p.CanDownloadBatch {
		t.Error("batch download must be disabled by default")
	}
	if !p.CanExtract || !p.CanMerge {
		t.Error("other capabilities should be enabled by default")
	}
}
