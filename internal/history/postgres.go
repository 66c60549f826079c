package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/tabula/common/database"
	"github.com/telhawk-systems/tabula/internal/models"
)

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// Timeouts bounds each repository call.
	Timeouts database.Timeouts
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: time.Minute,
		Timeouts:        database.DefaultTimeouts(),
	}
}

type PostgresRepository struct {
	pool     *pgxpool.Pool
	timeouts database.Timeouts
}

func NewPostgresRepository(ctx context.Context, connString string, pc PoolConfig) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = pc.MaxConns
	config.MinConns = pc.MinConns
	config.MaxConnLifetime = pc.MaxConnLifetime
	config.MaxConnIdleTime = pc.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool, timeouts: pc.Timeouts}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) Insert(ctx context.Context, rec *models.ConversionRecord) error {
	if err := Validate(rec); err != nil {
		return err
	}

	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return fmt.Errorf("%w: id %q is not a uuid", ErrInvalidRecord, rec.ID)
	}

	ctx, cancel := r.timeouts.WriteContext(ctx)
	defer cancel()

	query := `
		INSERT INTO conversion_history
			(id, user_id, file_name, file_size, row_count, column_count, status, error_message, json_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11)
	`

	var payload any
	if len(rec.Payload) > 0 {
		payload = []byte(rec.Payload)
	}

	_, err = r.pool.Exec(ctx, query,
		[16]byte(id), rec.OwnerID, rec.FileName, rec.FileSize, rec.RowCount, rec.ColumnCount,
		string(rec.Status), rec.ErrorMessage, payload, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]models.ConversionRecord, error) {
	ctx, cancel := r.timeouts.QueryContext(ctx)
	defer cancel()

	query := `
		SELECT id::text, user_id, file_name, file_size, row_count, column_count, status,
		       COALESCE(error_message, ''), created_at, updated_at
		FROM conversion_history
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	records := make([]models.ConversionRecord, 0)
	for rows.Next() {
		var rec models.ConversionRecord
		var status string
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.FileName, &rec.FileSize, &rec.RowCount,
			&rec.ColumnCount, &status, &rec.ErrorMessage, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		rec.Status = models.Status(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return records, nil
}

func (r *PostgresRepository) GetByOwner(ctx context.Context, ownerID, id string) (*models.ConversionRecord, error) {
	recordID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrRecordNotFound
	}

	ctx, cancel := r.timeouts.QueryContext(ctx)
	defer cancel()

	query := `
		SELECT id::text, user_id, file_name, file_size, row_count, column_count, status,
		       COALESCE(error_message, ''), json_data, created_at, updated_at
		FROM conversion_history
		WHERE id = $1 AND user_id = $2
	`

	var rec models.ConversionRecord
	var status string
	var payload []byte
	err = r.pool.QueryRow(ctx, query, [16]byte(recordID), ownerID).Scan(&rec.ID, &rec.OwnerID, &rec.FileName, &rec.FileSize,
		&rec.RowCount, &rec.ColumnCount, &status, &rec.ErrorMessage, &payload, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get history record: %w", err)
	}
	rec.Status = models.Status(status)
	rec.Payload = payload
	return &rec, nil
}

func (r *PostgresRepository) DeleteByOwner(ctx context.Context, ownerID string) (int64, error) {
	ctx, cancel := r.timeouts.BulkContext(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM conversion_history WHERE user_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear history: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) EnsureIdentity(ctx context.Context, id models.Identity) error {
	ctx, cancel := r.timeouts.WriteContext(ctx)
	defer cancel()

	query := `
		INSERT INTO identities (id, email, display_name)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
		ON CONFLICT (id) DO UPDATE
		SET email = COALESCE(EXCLUDED.email, identities.email),
		    display_name = COALESCE(EXCLUDED.display_name, identities.display_name),
		    updated_at = now()
	`
	if _, err := r.pool.Exec(ctx, query, id.ID, id.Email, id.DisplayName); err != nil {
		return fmt.Errorf("failed to ensure identity: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Probe(ctx context.Context) error {
	ctx, cancel := r.timeouts.ProbeContext(ctx)
	defer cancel()

	var id string
	err := r.pool.QueryRow(ctx, `SELECT id::text FROM conversion_history LIMIT 1`).Scan(&id)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("store probe failed: %w", err)
	}
	return nil
}
