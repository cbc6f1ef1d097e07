package backend

import (
	"context"

	"subtrack/internal/storage"
)

// CleanupFunc releases resources held by a backend.
type CleanupFunc func() error

// BackendResult is what the factory hands to the binaries.
type BackendResult struct {
	// Store is the subscription store, wrapped with the list cache.
	Store storage.ReminderStore
	// Users backs the auth service.
	Users storage.UserStore
	// Availability is decided once, when the backend is built.
	Availability Availability
	Cleanup      CleanupFunc
}

// Factory creates backends based on configuration.
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Availability reports whether a real store is configured.
type Availability struct {
	Available bool
	Reason    string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
	// NoBackend builds a store that fails every call.
	NoBackend BackendType = "none"
)

func (bt BackendType) String() string {
	return string(bt)
}

// Shared reports whether separate processes opening this backend see the
// same data. The reminder worker only runs against a shared backend.
func (bt BackendType) Shared() bool {
	return bt == SQLiteBackend
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend, NoBackend:
		return true
	default:
		return false
	}
}
