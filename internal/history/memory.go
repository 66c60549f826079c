package history

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/telhawk-systems/tabula/internal/models"
)

// InMemoryRepository keeps records in process memory. With
// RequireKnownOwners it rejects inserts for owners that were never passed
// to EnsureIdentity, like the foreign key of the relational schema.
type InMemoryRepository struct {
	records    map[string][]models.ConversionRecord
	identities map[string]models.Identity
	strict     bool
	mu         sync.RWMutex
}

type MemoryOption func(*InMemoryRepository)

func RequireKnownOwners() MemoryOption {
	return func(r *InMemoryRepository) { r.strict = true }
}

func NewInMemoryRepository(opts ...MemoryOption) *InMemoryRepository {
	r := &InMemoryRepository{
		records:    make(map[string][]models.ConversionRecord),
		identities: make(map[string]models.Identity),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *InMemoryRepository) Insert(_ context.Context, rec *models.ConversionRecord) error {
	if err := Validate(rec); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, known := r.identities[rec.OwnerID]; r.strict && !known {
		return ErrOwnerNotMaterialized
	}

	stored := *rec
	stored.Payload = bytes.Clone(rec.Payload)
	r.records[rec.OwnerID] = append(r.records[rec.OwnerID], stored)
	return nil
}

func (r *InMemoryRepository) ListByOwner(_ context.Context, ownerID string, limit int) ([]models.ConversionRecord, error) {
	r.mu.RLock()
	owned := r.records[ownerID]
	out := make([]models.ConversionRecord, 0, min(len(owned), limit))
	for i := len(owned) - 1; i >= 0; i-- {
		out = append(out, owned[i].Summary())
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *InMemoryRepository) GetByOwner(_ context.Context, ownerID, id string) (*models.ConversionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.records[ownerID] {
		if rec.ID == id {
			found := rec
			found.Payload = bytes.Clone(rec.Payload)
			return &found, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (r *InMemoryRepository) DeleteByOwner(_ context.Context, ownerID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := int64(len(r.records[ownerID]))
	delete(r.records, ownerID)
	return n, nil
}

func (r *InMemoryRepository) EnsureIdentity(_ context.Context, id models.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identities[id.ID] = id
	return nil
}

func (r *InMemoryRepository) Probe(ctx context.Context) error {
	return ctx.Err()
}

func (r *InMemoryRepository) Close() {}
