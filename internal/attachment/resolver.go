package attachment

import (
	"context"
	"fmt"
)

// Resolver selects the Storage that serves an account.
type Resolver interface {
	StorageFor(ctx context.Context, accountID string) (Storage, error)
}

// CapabilityChecker reports whether an account has a capability.
type CapabilityChecker interface {
	HasCapability(ctx context.Context, accountID, capability string) (bool, error)
}

// CapabilityResolver picks the first storage whose capability the account
// has, falling back to Default.
type CapabilityResolver struct {
	Default      Storage
	ByCapability []CapabilityStorage
	Checker      CapabilityChecker
}

// CapabilityStorage binds a capability name to a storage.
type CapabilityStorage struct {
	Capability string
	Storage    Storage
}

// StorageFor implements Resolver.
func (r *CapabilityResolver) StorageFor(ctx context.Context, accountID string) (Storage, error) {
	if r.Checker != nil {
		for _, cs := range r.ByCapability {
			ok, err := r.Checker.HasCapability(ctx, accountID, cs.Capability)
			if err != nil {
				return nil, fmt.Errorf("checking capability %s: %w", cs.Capability, err)
			}
			if ok {
				return cs.Storage, nil
			}
		}
	}
	if r.Default == nil {
		return nil, ErrStorageUnavailable
	}
	return r.Default, nil
}

// StaticCapabilities grants capabilities from a fixed account list.
type StaticCapabilities map[string][]string

// HasCapability implements CapabilityChecker.
func (s StaticCapabilities) HasCapability(_ context.Context, accountID, capability string) (bool, error) {
	for _, id := range s[capability] {
		if id == accountID || id == "*" {
			return true, nil
		}
	}
	return false, nil
}
