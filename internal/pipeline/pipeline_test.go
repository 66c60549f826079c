package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/tabula/common/logging"
	"github.com/telhawk-systems/tabula/internal/auth"
	"github.com/telhawk-systems/tabula/internal/convert"
	"github.com/telhawk-systems/tabula/internal/history"
	"github.com/telhawk-systems/tabula/internal/models"
	"github.com/telhawk-systems/tabula/internal/ratelimit"
	"github.com/telhawk-systems/tabula/internal/sample"
)

const testSecret = "pipeline-test-secret"

var owner = models.Identity{ID: "user-1", Email: "user1@example.com"}

// stubConverter counts calls and returns a fixed result or panics.
type stubConverter struct {
	calls int
	proj  convert.Projection
	err   error
	panic any
}

func (s *stubConverter) Convert(context.Context, []byte, string) (convert.Projection, error) {
	s.calls++
	if s.panic != nil {
		panic(s.panic)
	}
	return s.proj, s.err
}

// failingRepository rejects every insert.
type failingRepository struct {
	*history.InMemoryRepository
	err error
}

func (r failingRepository) Insert(context.Context, *models.ConversionRecord) error {
	return r.err
}

type fixture struct {
	pipeline *Pipeline
	limiter  *ratelimit.MemoryLimiter
	repo     *history.InMemoryRepository
	token    string
}

func newFixture(t *testing.T, conv Converter, repo history.Repository) fixture {
	t.Helper()
	policies, err := ratelimit.NewPolicySet(ratelimit.DefaultPolicies()...)
	require.NoError(t, err)

	limiter := ratelimit.NewMemoryLimiter(ratelimit.WithSweepInterval(0))
	t.Cleanup(func() { _ = limiter.Close() })

	mem := history.NewInMemoryRepository()
	if repo == nil {
		repo = mem
	}

	token, err := auth.NewSigner(testSecret, time.Hour, "", "").Sign(owner)
	require.NoError(t, err)

	gate := auth.NewGate(auth.NewJWTVerifier(testSecret))
	recorder := history.NewRecorder(repo, logging.Discard())
	return fixture{
		pipeline: New(limiter, policies, gate, conv, recorder, logging.Discard()),
		limiter:  limiter,
		repo:     mem,
		token:    "Bearer " + token,
	}
}

func TestClassifyAndStatus(t *testing.T) {
	tests := []struct {
		err     error
		kind    Kind
		status  int
		message string
	}{
		{ErrRateLimited, KindRateLimited, http.StatusTooManyRequests, MsgRateLimited},
		{auth.ErrMissingCredential, KindMissingCredential, http.StatusUnauthorized, MsgMissingCredential},
		{fmt.Errorf("%w: expired", auth.ErrInvalidCredential), KindInvalidCredential, http.StatusUnauthorized, MsgInvalidCredential},
		{ErrNoFile, KindBadRequest, http.StatusBadRequest, MsgNoFile},
		{ErrUploadTooLarge, KindBadRequest, http.StatusBadRequest, MsgUploadTooLarge},
		{convert.ValidateName("notes.txt"), KindUnsupportedFormat, http.StatusBadRequest, MsgUnsupportedFormat},
		{fmt.Errorf("%w: zip: not a valid zip file", convert.ErrMalformedInput), KindMalformedInput, http.StatusBadRequest, MsgMalformedInput},
		{convert.ErrUnreadableWorksheet, KindUnreadableWorksheet, http.StatusBadRequest, MsgUnreadableWorksheet},
		{convert.ErrNoWorksheet, KindNoWorksheet, http.StatusBadRequest, MsgNoWorksheet},
		{convert.ErrEmptyWorksheet, KindEmptyWorksheet, http.StatusBadRequest, MsgEmptyWorksheet},
		{auth.ErrIdentityUnavailable, KindUnexpectedFailure, http.StatusInternalServerError, MsgInternal},
		{errors.New("boom"), KindUnexpectedFailure, http.StatusInternalServerError, MsgInternal},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			kind := Classify(tt.err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.status, StatusFor(kind))
			assert.Equal(t, tt.message, Message(tt.err))
		})
	}

	assert.Equal(t, KindNone, Classify(nil))
	assert.Equal(t, KindPersistenceDegraded, Classify(history.ErrOwnerNotMaterialized))
	assert.Equal(t, http.StatusOK, StatusFor(KindNone))
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestAdmit(t *testing.T) {
	ctx := context.Background()

	t.Run("authenticated request is charged and admitted", func(t *testing.T) {
		f := newFixture(t, &stubConverter{}, nil)
		adm, err := f.pipeline.Admit(ctx, ratelimit.PolicyConvert, "10.0.0.1", f.token)
		require.NoError(t, err)
		assert.Equal(t, owner.ID, adm.Identity.ID)
		assert.True(t, adm.Limited)
		assert.Equal(t, 10, adm.Limit.Limit)
		assert.Equal(t, 9, adm.Limit.Remaining)
	})

	t.Run("missing and garbage credentials", func(t *testing.T) {
		f := newFixture(t, &stubConverter{}, nil)
		_, err := f.pipeline.Admit(ctx, ratelimit.PolicyConvert, "10.0.0.1", "")
		assert.ErrorIs(t, err, auth.ErrMissingCredential)

		_, err = f.pipeline.Admit(ctx, ratelimit.PolicyConvert, "10.0.0.1", "Bearer garbage")
		assert.ErrorIs(t, err, auth.ErrInvalidCredential)
	})

	t.Run("rejected credentials still consume budget", func(t *testing.T) {
		f := newFixture(t, &stubConverter{}, nil)
		for i := 0; i < 5; i++ {
			_, err := f.pipeline.Admit(ctx, ratelimit.PolicyAuth, "10.0.0.2", "Bearer nope")
			require.ErrorIs(t, err, auth.ErrInvalidCredential)
		}
		adm, err := f.pipeline.Admit(ctx, ratelimit.PolicyAuth, "10.0.0.2", f.token)
		assert.ErrorIs(t, err, ErrRateLimited)
		assert.False(t, adm.Limit.Allowed)
		assert.Positive(t, adm.Limit.RetryAfterSeconds())
		assert.Empty(t, adm.Identity.ID, "identity is never resolved for a limited request")
	})

	t.Run("budgets are per policy and per client", func(t *testing.T) {
		f := newFixture(t, &stubConverter{}, nil)
		for i := 0; i < 10; i++ {
			_, err := f.pipeline.Admit(ctx, ratelimit.PolicyConvert, "10.0.0.3", f.token)
			require.NoError(t, err)
		}
		_, err := f.pipeline.Admit(ctx, ratelimit.PolicyConvert, "10.0.0.3", f.token)
		assert.ErrorIs(t, err, ErrRateLimited)

		_, err = f.pipeline.Admit(ctx, ratelimit.PolicyHistory, "10.0.0.3", f.token)
		assert.NoError(t, err)
		_, err = f.pipeline.Admit(ctx, ratelimit.PolicyConvert, "10.0.0.4", f.token)
		assert.NoError(t, err)
	})

	t.Run("empty policy is not rate limited", func(t *testing.T) {
		f := newFixture(t, &stubConverter{}, nil)
		for i := 0; i < 50; i++ {
			adm, err := f.pipeline.Admit(ctx, "", "10.0.0.5", f.token)
			require.NoError(t, err)
			assert.False(t, adm.Limited)
		}
		assert.Zero(t, f.limiter.Len())
	})

	t.Run("unknown policy", func(t *testing.T) {
		f := newFixture(t, &stubConverter{}, nil)
		_, err := f.pipeline.Admit(ctx, "nope", "10.0.0.6", f.token)
		assert.ErrorIs(t, err, ratelimit.ErrInvalidPolicy)
	})
}

func TestConvert_Success(t *testing.T) {
	wb, err := sample.Generate(sample.Options{Rows: 5, Columns: 4, Seed: 42})
	require.NoError(t, err)

	f := newFixture(t, convert.NewEngine(convert.ExcelizeParser{}), nil)
	ctx := context.Background()

	res, err := f.pipeline.Convert(ctx, owner, Upload{Name: "sales.xlsx", Data: wb.Data})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Projection.RowCount)
	assert.Equal(t, 4, res.Projection.ColumnCount)
	assert.Equal(t, wb.Headers, res.Projection.Records[0].Keys())
	assert.True(t, res.Outcome.Stored())

	list, err := f.pipeline.Recorder().ListFor(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.StatusSuccess, list[0].Status)
	assert.Equal(t, 5, list[0].RowCount)
	assert.Equal(t, 4, list[0].ColumnCount)
	assert.Equal(t, "sales.xlsx", list[0].FileName)
}

func TestConvert_UnsupportedFormatIsNotRecorded(t *testing.T) {
	conv := &stubConverter{}
	f := newFixture(t, conv, nil)

	_, err := f.pipeline.Convert(context.Background(), owner, Upload{Name: "notes.txt", Data: []byte("hello")})
	assert.Equal(t, KindUnsupportedFormat, Classify(err))
	assert.Zero(t, conv.calls)

	list, err := f.repo.ListByOwner(context.Background(), owner.ID, 50)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConvert_FailuresAreRecorded(t *testing.T) {
	tests := []struct {
		name    string
		conv    *stubConverter
		kind    Kind
		message string
	}{
		{"malformed", &stubConverter{err: fmt.Errorf("%w: zip", convert.ErrMalformedInput)}, KindMalformedInput, MsgMalformedInput},
		{"no worksheet", &stubConverter{err: convert.ErrNoWorksheet}, KindNoWorksheet, MsgNoWorksheet},
		{"empty", &stubConverter{err: convert.ErrEmptyWorksheet}, KindEmptyWorksheet, MsgEmptyWorksheet},
		{"unexpected", &stubConverter{err: errors.New("disk on fire")}, KindUnexpectedFailure, MsgUnexpected},
		{"panic", &stubConverter{panic: "index out of range"}, KindUnexpectedFailure, MsgUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.conv, nil)
			ctx := context.Background()

			_, err := f.pipeline.Convert(ctx, owner, Upload{Name: "bad.xlsx", Data: []byte("x")})
			require.Error(t, err)
			assert.Equal(t, tt.kind, Classify(err))
			assert.Equal(t, 1, tt.conv.calls)

			list, err := f.repo.ListByOwner(ctx, owner.ID, 50)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, models.StatusError, list[0].Status)
			assert.Equal(t, tt.message, list[0].ErrorMessage)
			assert.Zero(t, list[0].RowCount)
		})
	}
}

func TestConvert_RecorderFailureDoesNotChangeResult(t *testing.T) {
	wb, err := sample.Generate(sample.Options{Rows: 2, Columns: 3, Seed: 7})
	require.NoError(t, err)

	for _, storeErr := range []error{history.ErrOwnerNotMaterialized, errors.New("connection reset")} {
		repo := failingRepository{InMemoryRepository: history.NewInMemoryRepository(), err: storeErr}
		f := newFixture(t, convert.NewEngine(convert.ExcelizeParser{}), repo)

		res, err := f.pipeline.Convert(context.Background(), owner, Upload{Name: "two.xlsx", Data: wb.Data})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Projection.RowCount)
		assert.Equal(t, 3, res.Projection.ColumnCount)
		assert.False(t, res.Outcome.Stored())
		assert.Equal(t, history.Classify(storeErr), res.Outcome.Degradation)
	}
}

func TestConvert_CanceledRequestIsNotRecorded(t *testing.T) {
	conv := &stubConverter{err: context.Canceled}
	f := newFixture(t, conv, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.pipeline.Convert(ctx, owner, Upload{Name: "big.xlsx", Data: []byte("x")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, conv.calls)

	list, err := f.repo.ListByOwner(context.Background(), owner.ID, 50)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConvert_CanceledErrorFromLiveRequestIsRecorded(t *testing.T) {
	f := newFixture(t, &stubConverter{err: context.Canceled}, nil)

	_, err := f.pipeline.Convert(context.Background(), owner, Upload{Name: "odd.xlsx", Data: []byte("x")})
	assert.Equal(t, KindUnexpectedFailure, Classify(err))

	list, err := f.repo.ListByOwner(context.Background(), owner.ID, 50)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, MsgUnexpected, list[0].ErrorMessage)
}
