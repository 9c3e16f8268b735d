package storage

import (
	"context"

	"github.com/bcnelson/ipauth-sync/internal/domain"
)

// Storage defines the interface for the cycle history store.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Close closes the storage connection.
	Close() error

	// Cycles
	CreateCycle(ctx context.Context, cycle *domain.CycleReport) error
	GetCycle(ctx context.Context, id string) (*domain.CycleReport, error)
	GetLatestCycle(ctx context.Context) (*domain.CycleReport, error)
	ListCycles(ctx context.Context, limit, offset int) ([]*domain.CycleReport, error)

	// Authorization events
	CreateEvent(ctx context.Context, event *domain.AuthorizationEvent) error
	ListEvents(ctx context.Context, cycleID string) ([]*domain.AuthorizationEvent, error)

	// Transaction support
	BeginTx(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Storage
	Commit() error
	Rollback() error
}

// SaveCycle writes a report and its events atomically.
func SaveCycle(ctx context.Context, store Storage, cycle *domain.CycleReport) error {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return err
	}

	if err := tx.CreateCycle(ctx, cycle); err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, ev := range cycle.Events {
		if err := tx.CreateEvent(ctx, ev); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}
