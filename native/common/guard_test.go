package common

import (
	"errors"
	"testing"
)

func TestGuard(t *testing.T) {
	if err := Guard(nil, RoleAdmin); !errors.Is(err, ErrMissingCapability) {
		t.Fatalf("expected ErrMissingCapability, got %v", err)
	}
	if err := Guard(NewCapability("  "), RoleStaker); !errors.Is(err, ErrMissingCapability) {
		t.Fatalf("expected ErrMissingCapability for blank caller, got %v", err)
	}
	staker := NewCapability("alice", RoleStaker)
	if err := Guard(staker, RoleAdmin); !errors.Is(err, ErrRoleNotGranted) {
		t.Fatalf("expected ErrRoleNotGranted, got %v", err)
	}
	if err := Guard(staker, RoleStaker); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if RoleDeployer.String() != "deployer" || Role(0).String() != "unknown" {
		t.Fatalf("unexpected role names")
	}
}
