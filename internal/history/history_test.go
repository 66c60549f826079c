package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/tabula/internal/models"
)

func successRecord(owner, id string, created time.Time) *models.ConversionRecord {
	return &models.ConversionRecord{
		ID:          id,
		OwnerID:     owner,
		FileName:    "sales.xlsx",
		FileSize:    2048,
		RowCount:    5,
		ColumnCount: 4,
		Status:      models.StatusSuccess,
		Payload:     json.RawMessage(`[{"a":1}]`),
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		rec  models.ConversionRecord
		ok   bool
	}{
		{"success with payload", models.ConversionRecord{OwnerID: "u", Status: models.StatusSuccess, Payload: json.RawMessage(`[]`)}, true},
		{"error with message", models.ConversionRecord{OwnerID: "u", Status: models.StatusError, ErrorMessage: "Worksheet is empty"}, true},
		{"success without payload", models.ConversionRecord{OwnerID: "u", Status: models.StatusSuccess}, false},
		{"success with message", models.ConversionRecord{OwnerID: "u", Status: models.StatusSuccess, Payload: json.RawMessage(`[]`), ErrorMessage: "x"}, false},
		{"error without message", models.ConversionRecord{OwnerID: "u", Status: models.StatusError}, false},
		{"error with payload", models.ConversionRecord{OwnerID: "u", Status: models.StatusError, ErrorMessage: "x", Payload: json.RawMessage(`[]`)}, false},
		{"unknown status", models.ConversionRecord{OwnerID: "u", Status: "pending"}, false},
		{"missing owner", models.ConversionRecord{Status: models.StatusError, ErrorMessage: "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.rec)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidRecord)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Degradation
	}{
		{"nil", nil, DegradationNone},
		{"sentinel", ErrOwnerNotMaterialized, DegradationOwnerMissing},
		{"wrapped sentinel", fmt.Errorf("insert: %w", ErrOwnerNotMaterialized), DegradationOwnerMissing},
		{"postgres foreign key", fmt.Errorf("failed to insert history record: %w", &pgconn.PgError{Code: "23503"}), DegradationOwnerMissing},
		{"postgres unique violation", &pgconn.PgError{Code: "23505"}, DegradationUnexpected},
		{"timeout", context.DeadlineExceeded, DegradationUnexpected},
		{"anything else", errors.New("connection reset"), DegradationUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestDegradation_String(t *testing.T) {
	assert.Equal(t, "none", DegradationNone.String())
	assert.Equal(t, "owner_missing", DegradationOwnerMissing.String())
	assert.Equal(t, "unexpected", DegradationUnexpected.String())
}

func TestInMemoryRepository_OwnerIsolation(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(ctx, successRecord("alice", "a1", base)))
	require.NoError(t, repo.Insert(ctx, successRecord("alice", "a2", base.Add(time.Minute))))
	require.NoError(t, repo.Insert(ctx, successRecord("bob", "b1", base)))

	aliceList, err := repo.ListByOwner(ctx, "alice", DefaultListLimit)
	require.NoError(t, err)
	require.Len(t, aliceList, 2)
	for _, rec := range aliceList {
		assert.Equal(t, "alice", rec.OwnerID)
		assert.Nil(t, rec.Payload, "list omits payload")
	}
	assert.Equal(t, "a2", aliceList[0].ID, "newest first")

	_, err = repo.GetByOwner(ctx, "bob", "a1")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	got, err := repo.GetByOwner(ctx, "alice", "a1")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"a":1}]`, string(got.Payload))

	n, err := repo.DeleteByOwner(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	aliceList, err = repo.ListByOwner(ctx, "alice", DefaultListLimit)
	require.NoError(t, err)
	assert.Len(t, aliceList, 2, "deleting bob leaves alice untouched")
}

func TestInMemoryRepository_ListLimit(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 60; i++ {
		require.NoError(t, repo.Insert(ctx, successRecord("u", fmt.Sprintf("r%02d", i), base.Add(time.Duration(i)*time.Second))))
	}

	list, err := repo.ListByOwner(ctx, "u", DefaultListLimit)
	require.NoError(t, err)
	require.Len(t, list, DefaultListLimit)
	assert.Equal(t, "r59", list[0].ID)
	assert.Equal(t, "r10", list[len(list)-1].ID)
}

func TestInMemoryRepository_RequireKnownOwners(t *testing.T) {
	repo := NewInMemoryRepository(RequireKnownOwners())
	ctx := context.Background()

	err := repo.Insert(ctx, successRecord("ghost", "g1", time.Now()))
	assert.ErrorIs(t, err, ErrOwnerNotMaterialized)
	assert.Equal(t, DegradationOwnerMissing, Classify(err))

	require.NoError(t, repo.EnsureIdentity(ctx, models.Identity{ID: "ghost"}))
	require.NoError(t, repo.Insert(ctx, successRecord("ghost", "g1", time.Now())))
}

func TestInMemoryRepository_RejectsInvalid(t *testing.T) {
	repo := NewInMemoryRepository()
	err := repo.Insert(context.Background(), &models.ConversionRecord{OwnerID: "u", Status: models.StatusSuccess})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestInMemoryRepository_Probe(t *testing.T) {
	repo := NewInMemoryRepository()
	assert.NoError(t, repo.Probe(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, repo.Probe(ctx))
}
