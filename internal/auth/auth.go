// Package auth implements static API key authentication for the HTTP API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	RoleQueryReader    = "query_reader"
	RoleSnapshotWriter = "snapshot_writer"
)

var ErrForbidden = errors.New("forbidden")

// Identity is the operator behind an API key.
type Identity struct {
	Operator string
	Roles    []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

// NewStaticAPIKeyValidator parses "key:operator:role|role" entries separated
// by commas.
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid static key entry %q: expected key:operator:role|role", entry)
		}
		key := strings.TrimSpace(parts[0])
		operator := strings.TrimSpace(parts[1])
		if key == "" || operator == "" {
			return nil, fmt.Errorf("invalid static key entry %q: empty key/operator", entry)
		}
		if _, exists := validator.keys[key]; exists {
			return nil, fmt.Errorf("invalid static key entry %q: duplicate key", entry)
		}
		roles := make([]string, 0)
		for _, role := range strings.Split(parts[2], "|") {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}
		if len(roles) == 0 {
			return nil, fmt.Errorf("invalid static key entry %q: at least one role is required", entry)
		}
		slices.Sort(roles)
		validator.keys[key] = Identity{Operator: operator, Roles: slices.Compact(roles)}
	}

	return validator, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}

func (v *StaticAPIKeyValidator) Len() int {
	return len(v.keys)
}

// RequireRole passes when ctx carries no identity (auth disabled) or an
// identity holding role.
func RequireRole(ctx context.Context, role string) error {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return nil
	}
	if !identity.HasRole(role) {
		return fmt.Errorf("%w: role %s is required", ErrForbidden, role)
	}
	return nil
}
