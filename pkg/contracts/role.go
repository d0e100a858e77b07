package contracts

import (
	"fmt"
	"strings"
)

// Role is the signing authority a key is registered under.
//
// The set is closed: every switch over Role must handle all three values
// and fall through to ErrUnknownRole.
type Role int

const (
	RoleUnknown Role = iota
	// RoleAgent keys belong to an autonomous agent and are supplied per call.
	RoleAgent
	// RoleTreasury keys belong to a realm treasury and live only in custody.
	RoleTreasury
	// RoleDelegated keys are supplied per call on behalf of a delegator.
	RoleDelegated
)

// Roles lists every valid role.
var Roles = []Role{RoleAgent, RoleTreasury, RoleDelegated}

func (r Role) String() string {
	switch r {
	case RoleAgent:
		return "agent"
	case RoleTreasury:
		return "treasury"
	case RoleDelegated:
		return "delegated"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAgent, RoleTreasury, RoleDelegated:
		return true
	default:
		return false
	}
}

// Opposing returns the roles whose public keys must stay disjoint from r.
// Agent and Delegated keys are both caller-controlled, so both oppose
// Treasury.
func (r Role) Opposing() ([]Role, error) {
	switch r {
	case RoleTreasury:
		return []Role{RoleAgent, RoleDelegated}, nil
	case RoleAgent, RoleDelegated:
		return []Role{RoleTreasury}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, r)
	}
}

// ParseRole parses the textual role name.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "agent":
		return RoleAgent, nil
	case "treasury":
		return RoleTreasury, nil
	case "delegated":
		return RoleDelegated, nil
	default:
		return RoleUnknown, fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// AuthorityKind describes what controls a key.
type AuthorityKind string

const (
	AuthorityAIRuntime     AuthorityKind = "ai_runtime"
	AuthorityGovernancePDA AuthorityKind = "governance_pda"
	AuthorityOperator      AuthorityKind = "operator"
)
