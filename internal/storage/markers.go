package storage

import (
	"context"
	"fmt"

	"syba/internal/core"
	"syba/internal/vault"
)

// BlobStore is the raw key-value surface MarkerStore encrypts over.
type BlobStore interface {
	GetBlob(ctx context.Context, key string) ([]byte, error)
	PutBlob(ctx context.Context, key string, value []byte) error
}

// MarkerStore persists the last-processed deduction maps as sealed
// JSON blobs. It implements deduction.MarkerStore.
type MarkerStore struct {
	blobs  BlobStore
	sealer *vault.Sealer
}

// NewMarkerStore wires a blob store to a sealer. A nil sealer means no
// encryption key is available; every operation then fails with
// vault.ErrKeyRequired, which aborts a reconciliation run up front.
func NewMarkerStore(blobs BlobStore, sealer *vault.Sealer) *MarkerStore {
	return &MarkerStore{blobs: blobs, sealer: sealer}
}

func (m *MarkerStore) LoadMarkers(ctx context.Context, key string) (map[string]core.YearMonth, error) {
	if m.sealer == nil {
		return nil, vault.ErrKeyRequired
	}
	blob, err := m.blobs.GetBlob(ctx, key)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		// First run: nothing processed yet.
		return map[string]core.YearMonth{}, nil
	}
	markers := map[string]core.YearMonth{}
	if err := m.sealer.Open(blob, &markers); err != nil {
		return nil, fmt.Errorf("open markers %s: %w", key, err)
	}
	return markers, nil
}

func (m *MarkerStore) SaveMarkers(ctx context.Context, key string, markers map[string]core.YearMonth) error {
	if m.sealer == nil {
		return vault.ErrKeyRequired
	}
	blob, err := m.sealer.Seal(markers)
	if err != nil {
		return fmt.Errorf("seal markers %s: %w", key, err)
	}
	return m.blobs.PutBlob(ctx, key, blob)
}
