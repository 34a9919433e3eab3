package domain

import "context"

// ReadStateRepository is the durable key-value surface behind the read state store.
type ReadStateRepository interface {
	// LoadAll returns every readable entry. Entries that cannot be decoded are skipped.
	LoadAll(ctx context.Context) ([]ReadState, error)
	// Save upserts one entry. Implementations never move a stored cursor backwards.
	Save(ctx context.Context, st ReadState) error
	Clear(ctx context.Context) error
}
