package common

import (
	"errors"
	"strings"
)

var (
	ErrMissingCapability = errors.New("capability token missing")
	ErrRoleNotGranted    = errors.New("capability does not grant role")
)

// Role enumerates the authorities a dispatch layer can attest to.
type Role uint8

const (
	RoleStaker Role = iota + 1
	RoleAdmin
	RoleDeployer
)

func (r Role) String() string {
	switch r {
	case RoleStaker:
		return "staker"
	case RoleAdmin:
		return "admin"
	case RoleDeployer:
		return "deployer"
	default:
		return "unknown"
	}
}

// Capability is the pre-validated proof handed to native modules by the
// dispatch layer once signer and authority checks have passed. Modules trust
// its presence and never re-verify the caller.
type Capability struct {
	Caller string
	Roles  []Role
}

// NewCapability constructs a token for the caller granting the listed roles.
func NewCapability(caller string, roles ...Role) *Capability {
	return &Capability{Caller: strings.TrimSpace(caller), Roles: append([]Role(nil), roles...)}
}

// Has reports whether the capability grants role.
func (c *Capability) Has(role Role) bool {
	if c == nil {
		return false
	}
	for _, granted := range c.Roles {
		if granted == role {
			return true
		}
	}
	return false
}

// Guard rejects calls lacking a capability that grants role.
func Guard(c *Capability, role Role) error {
	if c == nil || c.Caller == "" {
		return ErrMissingCapability
	}
	if !c.Has(role) {
		return ErrRoleNotGranted
	}
	return nil
}
