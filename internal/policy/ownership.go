package policy

import "context"

// Ownable is an interface for resources that have an owner.
// A nil owner marks a guest resource that no account owns.
type Ownable interface {
	GetOwnerID() *uint
}

// OwnershipPolicy allows a user to act on resources they own.
type OwnershipPolicy struct{}

// NewOwnershipPolicy creates a new ownership policy.
func NewOwnershipPolicy() *OwnershipPolicy {
	return &OwnershipPolicy{}
}

// Can checks if the user owns the resource.
// For list/create actions (resource is nil) it returns true; the caller
// scopes those by owner.
func (p *OwnershipPolicy) Can(_ context.Context, userID uint, _ Action, resource any) bool {
	if resource == nil {
		return true
	}
	ownable, ok := resource.(Ownable)
	if !ok {
		// Resources without an owner field are never reachable through the gate.
		return false
	}
	owner := ownable.GetOwnerID()
	return owner != nil && *owner == userID
}
