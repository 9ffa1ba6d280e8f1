// Package policy holds the authorization gate: a registry of per-resource
// policies keyed by resource type. The engine only needs owner isolation, so
// every registered resource uses OwnershipPolicy.
package policy

import (
	"context"
	"errors"
)

// Action describes the kind of operation a user wants to perform.
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionList   Action = "list"
)

// Resource type names.
const (
	ResourceInvoice = "invoice"
	ResourceClient  = "client"
	ResourceWebhook = "webhook"
)

// Sentinel errors returned by Gate.Authorize.
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNoPolicyDefined = errors.New("no policy defined for resource")
)

// Policy defines authorization rules for a resource type.
// For list/create, resource may be nil (context-only check).
type Policy interface {
	Can(ctx context.Context, userID uint, action Action, resource any) bool
}

// Gate is the central authorization checkpoint.
type Gate struct {
	policies map[string]Policy
}

// NewGate creates an empty Gate ready to register policies.
func NewGate() *Gate {
	return &Gate{policies: make(map[string]Policy)}
}

// Default returns a gate with OwnershipPolicy registered for every resource.
func Default() *Gate {
	g := NewGate()
	own := NewOwnershipPolicy()
	g.Register(ResourceInvoice, own)
	g.Register(ResourceClient, own)
	g.Register(ResourceWebhook, own)
	return g
}

// Register adds a policy for a given resource type (e.g., "invoice").
// Overwrites any existing policy for that type.
func (g *Gate) Register(resourceType string, p Policy) {
	g.policies[resourceType] = p
}

// Authorize checks authorization and returns an error if denied.
// Returns ErrUnauthorized for a zero user id or denied action;
// returns ErrNoPolicyDefined if resourceType has no registered policy.
func (g *Gate) Authorize(ctx context.Context, userID uint, action Action, resourceType string, resource any) error {
	if userID == 0 {
		return ErrUnauthorized
	}
	p, ok := g.policies[resourceType]
	if !ok {
		return ErrNoPolicyDefined
	}
	if !p.Can(ctx, userID, action, resource) {
		return ErrUnauthorized
	}
	return nil
}

// Can is a convenience wrapper returning bool instead of error.
func (g *Gate) Can(ctx context.Context, userID uint, action Action, resourceType string, resource any) bool {
	return g.Authorize(ctx, userID, action, resourceType, resource) == nil
}
