package store

import (
	"context"

	"github.com/zoff-tech/petsync/pkg/action"
	"github.com/zoff-tech/petsync/pkg/model"
)

// OfflineStore defines the durable operations over cached entities and the
// action queue. It is the only component permitted to touch persisted storage;
// every backend serializes its own access so callers never interleave
// read-modify-write sequences on the same record.
type OfflineStore interface {
	// QueueAction serializes the payload and persists a pending action with a
	// zero retry count. A serialization failure is a hard error to the caller.
	QueueAction(ctx context.Context, p action.Payload) (string, error)
	// FetchPendingActions returns all pending actions oldest-first. FIFO order
	// preserves causal ordering of mutations against the same entity.
	FetchPendingActions(ctx context.Context) ([]action.QueuedAction, error)
	// FetchFailedActions returns all failed actions oldest-first.
	FetchFailedActions(ctx context.Context) ([]action.QueuedAction, error)
	// CompleteAction deletes the action record. Completing a missing id is a
	// no-op, not an error.
	CompleteAction(ctx context.Context, id string) error
	// FailAction records the error and increments the retry count unless
	// suppressed. Reaching the retry ceiling deletes the record outright.
	FailAction(ctx context.Context, id, errMsg string, incrementRetry bool) error
	// RetryAction re-admits a failed action to the next drain cycle.
	RetryAction(ctx context.Context, id string) error
	RetryAllFailedActions(ctx context.Context) error
	// DismissAction permanently deletes a failed action the user chose not to
	// retry. Dismissing a missing id is a no-op.
	DismissAction(ctx context.Context, id string) error
	DismissAllFailedActions(ctx context.Context) error

	// SavePet upserts by identifier, overwriting all mirrored fields and
	// stamping LastSyncedAt. Same semantics for the other entity kinds.
	SavePet(ctx context.Context, p model.Pet) error
	SaveAlert(ctx context.Context, a model.Alert) error
	SaveSuccessStory(ctx context.Context, s model.SuccessStory) error
	DeletePet(ctx context.Context, id string) error
	DeleteAlert(ctx context.Context, id string) error

	FetchPets(ctx context.Context) ([]model.Pet, error)
	FetchPet(ctx context.Context, id string) (*model.Pet, error)
	FetchAlerts(ctx context.Context) ([]model.Alert, error)
	FetchAlertsForPet(ctx context.Context, petID string) ([]model.Alert, error)
	FetchSuccessStories(ctx context.Context, publicOnly bool) ([]model.SuccessStory, error)

	// ClearAllData wipes cached entities and the action queue, all-or-nothing.
	ClearAllData(ctx context.Context) error
	// Close releases the underlying storage handle.
	Close(ctx context.Context) error
}
