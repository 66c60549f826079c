// Package pipeline admits requests and runs conversions for the HTTP layer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/telhawk-systems/tabula/common/logging"
	"github.com/telhawk-systems/tabula/internal/auth"
	"github.com/telhawk-systems/tabula/internal/convert"
	"github.com/telhawk-systems/tabula/internal/history"
	"github.com/telhawk-systems/tabula/internal/metrics"
	"github.com/telhawk-systems/tabula/internal/models"
	"github.com/telhawk-systems/tabula/internal/ratelimit"
)

// Converter is the conversion collaborator.
type Converter interface {
	Convert(ctx context.Context, data []byte, name string) (convert.Projection, error)
}

// Admission is the result of Admit. Limit is set whenever a budget was
// charged, including when the request was rejected.
type Admission struct {
	Identity models.Identity
	Limit    ratelimit.Result
	Limited  bool
}

// Upload is a received file.
type Upload struct {
	Name string
	Data []byte
}

// Size is the number of bytes received.
func (u Upload) Size() int64 {
	return int64(len(u.Data))
}

// Result is a successful conversion. Outcome reports the history write and
// never affects the response.
type Result struct {
	Projection convert.Projection
	Outcome    history.Outcome
}

// Pipeline owns the per-request state machine: rate limit, authenticate,
// convert, record.
type Pipeline struct {
	limiter  ratelimit.Limiter
	policies *ratelimit.PolicySet
	gate     *auth.Gate
	engine   Converter
	recorder *history.Recorder
	logger   *logging.Logger
}

func New(limiter ratelimit.Limiter, policies *ratelimit.PolicySet, gate *auth.Gate,
	engine Converter, recorder *history.Recorder, logger *logging.Logger) *Pipeline {
	return &Pipeline{
		limiter:  limiter,
		policies: policies,
		gate:     gate,
		engine:   engine,
		recorder: recorder,
		logger:   logger,
	}
}

// Recorder exposes the history recorder for the query endpoints.
func (p *Pipeline) Recorder() *history.Recorder {
	return p.recorder
}

// Admit charges client against policy and then authenticates header.
// An empty policy skips rate limiting. The charge is never rolled back,
// so rejected credentials still consume budget.
func (p *Pipeline) Admit(ctx context.Context, policy, client, header string) (Admission, error) {
	var adm Admission

	if policy != "" {
		pol, ok := p.policies.Get(policy)
		if !ok {
			return adm, fmt.Errorf("%w: unknown policy %q", ratelimit.ErrInvalidPolicy, policy)
		}
		res, err := p.limiter.Check(ctx, ratelimit.Key(policy, client), pol)
		if err != nil {
			// A broken limiter backend admits rather than taking the API down.
			p.logger.WithContext(ctx).Error("rate limiter unavailable, admitting request",
				logging.Policy(policy), logging.ClientKey(client), logging.Error(err))
		} else {
			adm.Limit = res
			adm.Limited = true
			if !res.Allowed {
				p.logger.WithContext(ctx).Info("request rate limited",
					logging.Policy(policy), logging.ClientKey(client))
				return adm, ErrRateLimited
			}
		}
	}

	id, err := p.gate.Authenticate(ctx, header)
	if err != nil {
		return adm, err
	}
	adm.Identity = id
	return adm, nil
}

// Convert runs the engine on up and records the outcome for owner.
// Unsupported names and conversions abandoned by a canceled request are
// not written to history. Every other failure and every success is
// recorded best-effort; the recorder result
// is returned for logging only.
func (p *Pipeline) Convert(ctx context.Context, owner models.Identity, up Upload) (Result, error) {
	log := p.logger.WithContext(ctx).With(
		logging.UserID(owner.ID),
		logging.FileName(up.Name),
		logging.FileSize(up.Size()),
	)
	metrics.UploadBytes.Observe(float64(up.Size()))

	if err := convert.ValidateName(up.Name); err != nil {
		metrics.ConversionsTotal.WithLabelValues(KindUnsupportedFormat.String()).Inc()
		log.Info("upload rejected", logging.Kind(KindUnsupportedFormat.String()))
		return Result{}, err
	}

	start := time.Now()
	proj, err := p.safeConvert(ctx, up)
	if err == nil {
		var payload []byte
		payload, err = proj.Payload()
		if err != nil {
			err = fmt.Errorf("encode projection: %w", err)
		} else {
			metrics.ConversionsTotal.WithLabelValues("success").Inc()
			out := p.recorder.Record(ctx, owner,
				history.SuccessEntry(up.Name, up.Size(), proj.RowCount, proj.ColumnCount, payload))
			log.Info("conversion succeeded",
				"rows", proj.RowCount,
				"columns", proj.ColumnCount,
				logging.Duration(time.Since(start).Milliseconds()),
				"recorded", out.Stored())
			return Result{Projection: proj, Outcome: out}, nil
		}
	}

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		metrics.ConversionsTotal.WithLabelValues("canceled").Inc()
		log.Info("conversion abandoned by client", logging.Duration(time.Since(start).Milliseconds()))
		return Result{}, err
	}

	kind := Classify(err)
	metrics.ConversionsTotal.WithLabelValues(kind.String()).Inc()

	message := Message(err)
	if kind == KindUnexpectedFailure {
		message = MsgUnexpected
		log.Error("conversion failed unexpectedly", logging.Kind(kind.String()), logging.Error(err))
	} else {
		log.Info("conversion rejected", logging.Kind(kind.String()), logging.Error(err))
	}

	p.recorder.Record(ctx, owner, history.FailureEntry(up.Name, up.Size(), message))
	return Result{}, err
}

// safeConvert turns a panic in the parsing collaborator into an error.
func (p *Pipeline) safeConvert(ctx context.Context, up Upload) (proj convert.Projection, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithContext(ctx).Error("recovered panic in converter",
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return p.engine.Convert(ctx, up.Data, up.Name)
}
