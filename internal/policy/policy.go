// Package policy maps a caller role to retrieval limits and tool permissions.
package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Role string

const (
	Viewer  Role = "viewer"
	Analyst Role = "analyst"
	Admin   Role = "admin"
)

type Permission string

const (
	Read   Permission = "read"
	Report Permission = "report"
	// Draft lets a role prepare a data change that still needs confirmation.
	Draft Permission = "draft"
	Write Permission = "write"
)

var ErrDenied = errors.New("permission denied")

const defaultTopK = 8

type Policy struct {
	Role            Role
	MaxTopK         int
	MaxContextChars int
	// AllowedSourceTypes restricts retrieval scope; empty means unrestricted.
	AllowedSourceTypes []string
	permissions        map[Permission]bool
}

// ParseRole normalizes s. Unknown or empty roles get viewer permissions.
func ParseRole(s string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case Viewer, Analyst, Admin:
		return r
	default:
		return Viewer
	}
}

func For(role Role) Policy {
	switch ParseRole(string(role)) {
	case Admin:
		return Policy{Role: Admin, MaxTopK: 12, MaxContextChars: 14000,
			permissions: map[Permission]bool{Read: true, Report: true, Draft: true, Write: true}}
	case Analyst:
		return Policy{Role: Analyst, MaxTopK: 10, MaxContextChars: 12000,
			permissions: map[Permission]bool{Read: true, Report: true, Draft: true}}
	default:
		return Policy{Role: Viewer, MaxTopK: 8, MaxContextChars: 9000,
			permissions: map[Permission]bool{Read: true}}
	}
}

func (p Policy) Allows(perm Permission) bool {
	return p.permissions[perm]
}

// ClampTopK bounds k to [1, MaxTopK]; zero means the default.
func (p Policy) ClampTopK(k int) int {
	if k == 0 {
		k = defaultTopK
	}
	if k < 1 {
		k = 1
	}
	if k > p.MaxTopK {
		k = p.MaxTopK
	}
	return k
}

// FilterSourceTypes intersects the requested scope with the allowed one.
// A nil result means no filter.
func (p Policy) FilterSourceTypes(requested []string) []string {
	req := nonEmpty(requested)
	allowed := nonEmpty(p.AllowedSourceTypes)
	switch {
	case len(allowed) == 0:
		return req
	case len(req) == 0:
		return allowed
	}
	want := make(map[string]bool, len(req))
	for _, s := range req {
		want[s] = true
	}
	out := []string{}
	for _, s := range allowed {
		if want[s] {
			out = append(out, s)
		}
	}
	return out
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

type roleKey struct{}

// WithRole stores the request role in ctx.
func WithRole(ctx context.Context, role Role) context.Context {
	return context.WithValue(ctx, roleKey{}, ParseRole(string(role)))
}

// RoleFrom returns the request role, viewer when none was set.
func RoleFrom(ctx context.Context) Role {
	if r, ok := ctx.Value(roleKey{}).(Role); ok {
		return r
	}
	return Viewer
}

// Enforce fails with ErrDenied when the role in ctx lacks perm.
func Enforce(ctx context.Context, perm Permission) error {
	role := RoleFrom(ctx)
	if !For(role).Allows(perm) {
		return fmt.Errorf("role %q, %s: %w", role, perm, ErrDenied)
	}
	return nil
}
