package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/tabula/common/database"
	"github.com/telhawk-systems/tabula/common/logging"
	"github.com/telhawk-systems/tabula/internal/metrics"
	"github.com/telhawk-systems/tabula/internal/models"
)

// Entry describes one conversion attempt before it is stored.
type Entry struct {
	FileName     string
	FileSize     int64
	RowCount     int
	ColumnCount  int
	Status       models.Status
	ErrorMessage string
	Payload      json.RawMessage
}

// SuccessEntry describes a conversion that produced payload.
func SuccessEntry(fileName string, fileSize int64, rows, cols int, payload json.RawMessage) Entry {
	return Entry{
		FileName:    fileName,
		FileSize:    fileSize,
		RowCount:    rows,
		ColumnCount: cols,
		Status:      models.StatusSuccess,
		Payload:     payload,
	}
}

// FailureEntry describes a conversion that failed with message.
func FailureEntry(fileName string, fileSize int64, message string) Entry {
	return Entry{
		FileName:     fileName,
		FileSize:     fileSize,
		Status:       models.StatusError,
		ErrorMessage: message,
	}
}

// Outcome reports what happened to a Record call. Callers only log it.
type Outcome struct {
	Record      models.ConversionRecord
	Err         error
	Degradation Degradation
}

// Stored reports whether the record reached the store.
func (o Outcome) Stored() bool {
	return o.Err == nil
}

// Recorder writes conversion outcomes best-effort and serves the
// owner-scoped history queries.
type Recorder struct {
	repo           Repository
	notifier       Notifier
	logger         *logging.Logger
	ensureIdentity bool
	listLimit      int
	timeouts       database.Timeouts
	now            func() time.Time
}

type RecorderOption func(*Recorder)

// WithNotifier publishes successful writes and clears.
func WithNotifier(n Notifier) RecorderOption {
	return func(r *Recorder) { r.notifier = n }
}

// WithEnsureIdentity upserts the owner before each insert.
func WithEnsureIdentity(enabled bool) RecorderOption {
	return func(r *Recorder) { r.ensureIdentity = enabled }
}

// WithListLimit overrides DefaultListLimit.
func WithListLimit(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.listLimit = n
		}
	}
}

// WithTimeouts bounds the detached history writes and event publishes.
func WithTimeouts(t database.Timeouts) RecorderOption {
	return func(r *Recorder) { r.timeouts = t }
}

// WithNow replaces the clock.
func WithNow(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

func NewRecorder(repo Repository, logger *logging.Logger, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		repo:      repo,
		notifier:  NopNotifier{},
		logger:    logger,
		listLimit: DefaultListLimit,
		timeouts:  database.DefaultTimeouts(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record stores e for owner. It never returns an error: failures are
// classified, logged and reported in the Outcome. The write is detached
// from ctx cancellation so a disconnecting caller still leaves a record.
func (r *Recorder) Record(ctx context.Context, owner models.Identity, e Entry) Outcome {
	now := r.now().UTC()
	rec := models.ConversionRecord{
		ID:           newRecordID(),
		OwnerID:      owner.ID,
		FileName:     e.FileName,
		FileSize:     e.FileSize,
		RowCount:     e.RowCount,
		ColumnCount:  e.ColumnCount,
		Status:       e.Status,
		ErrorMessage: e.ErrorMessage,
		Payload:      e.Payload,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	writeCtx, cancel := r.timeouts.DetachedContext(ctx)
	defer cancel()
	log := r.logger.WithContext(ctx).With(
		logging.UserID(owner.ID),
		logging.FileName(e.FileName),
		logging.RecordID(rec.ID),
	)

	if r.ensureIdentity {
		if err := r.repo.EnsureIdentity(writeCtx, owner); err != nil {
			log.Warn("failed to provision identity before history write", logging.Error(err))
		}
	}

	err := r.repo.Insert(writeCtx, &rec)
	out := Outcome{Record: rec, Err: err, Degradation: Classify(err)}

	switch out.Degradation {
	case DegradationNone:
		metrics.HistoryWrites.WithLabelValues("ok").Inc()
		log.Debug("history record stored", "status", string(rec.Status))
		if nerr := r.notifier.Recorded(writeCtx, rec); nerr != nil {
			log.Warn("failed to publish history event", logging.Error(nerr))
		}
	case DegradationOwnerMissing:
		metrics.HistoryWrites.WithLabelValues(out.Degradation.String()).Inc()
		log.Warn("history write skipped: identity not yet in store", logging.Error(err))
	default:
		metrics.HistoryWrites.WithLabelValues(out.Degradation.String()).Inc()
		log.Error("history write failed", logging.Error(err), logging.Investigate())
	}
	return out
}

// ListFor returns the owner's most recent records without payload.
func (r *Recorder) ListFor(ctx context.Context, owner models.Identity) ([]models.ConversionRecord, error) {
	return r.repo.ListByOwner(ctx, owner.ID, r.listLimit)
}

// GetOne returns one of the owner's records including payload, or
// ErrRecordNotFound.
func (r *Recorder) GetOne(ctx context.Context, owner models.Identity, id string) (*models.ConversionRecord, error) {
	return r.repo.GetByOwner(ctx, owner.ID, id)
}

// DeleteAllFor removes the owner's records and returns how many were removed.
func (r *Recorder) DeleteAllFor(ctx context.Context, owner models.Identity) (int64, error) {
	n, err := r.repo.DeleteByOwner(ctx, owner.ID)
	if err != nil {
		return 0, err
	}
	pubCtx, cancel := r.timeouts.DetachedContext(ctx)
	defer cancel()
	if nerr := r.notifier.Cleared(pubCtx, owner.ID, n); nerr != nil {
		r.logger.WarnContext(ctx, "failed to publish history event", logging.UserID(owner.ID), logging.Error(nerr))
	}
	return n, nil
}

// Probe touches the store.
func (r *Recorder) Probe(ctx context.Context) error {
	return r.repo.Probe(ctx)
}

func newRecordID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
