package domain

import "time"

// Lifecycle replaces nullable deleted_at checks for soft-deleted records.
type Lifecycle string

const (
	LifecycleActive      Lifecycle = "ACTIVE"
	LifecycleDeactivated Lifecycle = "DEACTIVATED"
	LifecycleDeleted     Lifecycle = "DELETED"
)

// LifecycleOf derives the state from the stored active flag and deletion time.
func LifecycleOf(isActive bool, deletedAt *time.Time) Lifecycle {
	switch {
	case deletedAt != nil:
		return LifecycleDeleted
	case !isActive:
		return LifecycleDeactivated
	default:
		return LifecycleActive
	}
}

// Columns returns the stored representation of the state.
func (l Lifecycle) Columns(now time.Time) (isActive bool, deletedAt *time.Time) {
	switch l {
	case LifecycleDeleted:
		return false, &now
	case LifecycleDeactivated:
		return false, nil
	default:
		return true, nil
	}
}
