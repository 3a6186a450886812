package models

import "time"

// SoftDeletable is implemented by every entity that is retired by stamping a
// deletion time instead of being removed.
type SoftDeletable interface {
	DeletedAtTime() *time.Time
}

// IsLive reports whether the entity has not been soft-deleted. A nil entity is
// never live.
func IsLive(e SoftDeletable) bool {
	if e == nil {
		return false
	}
	deletedAt := e.DeletedAtTime()
	return deletedAt == nil || deletedAt.IsZero()
}

// LiveOnly filters a slice down to live entities preserving order.
func LiveOnly[T SoftDeletable](items []T) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if IsLive(item) {
			out = append(out, item)
		}
	}
	return out
}
