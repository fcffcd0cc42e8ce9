// Package locks implements TTL-bounded advisory edit locks keyed by
// (resourceType, resourceID).
package locks

import "time"

// Holder identifies the principal requesting a lock.
type Holder struct {
	ID          string
	DisplayName string
}

// Lock is the state of a held key.
type Lock struct {
	ResourceType string
	ResourceID   string
	HolderID     string
	HolderName   string
	AcquiredAt   time.Time
	ExpiresAt    time.Time
}

// LockedBy is the client-facing holder identity.
func (l Lock) LockedBy() string {
	if l.HolderName != "" {
		return l.HolderName
	}
	return l.HolderID
}

// AcquireResult reports an acquire attempt. Degraded means the store was
// unreachable and the lock was granted without cross-process exclusion.
type AcquireResult struct {
	Success  bool
	Renewed  bool
	Degraded bool
	LockedBy string
	Lock     Lock
}

// ReleaseResult reports a release attempt. Success is true for non-holders.
type ReleaseResult struct {
	Success  bool
	Released bool
	Degraded bool
}

// CheckResult reports the current state of a key.
type CheckResult struct {
	IsLocked   bool
	LockedBy   string
	LockedByID string
	AcquiredAt time.Time
	ExpiresAt  time.Time
	Degraded   bool
}
