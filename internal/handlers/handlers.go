package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/telhawk-systems/tabula/common/database"
	"github.com/telhawk-systems/tabula/common/httputil"
	"github.com/telhawk-systems/tabula/common/logging"
	"github.com/telhawk-systems/tabula/internal/history"
	"github.com/telhawk-systems/tabula/internal/models"
	"github.com/telhawk-systems/tabula/internal/pipeline"
	"github.com/telhawk-systems/tabula/internal/ratelimit"
)

// DefaultMaxUploadBytes caps multipart bodies when no limit is configured.
const DefaultMaxUploadBytes = 10 * units.MB

type Config struct {
	MaxUploadBytes  int64
	KeepAliveSecret string
	Development     bool

	// Timeouts bounds the store calls each endpoint makes.
	Timeouts database.Timeouts
}

type Handler struct {
	pipeline *pipeline.Pipeline
	cfg      Config
	logger   *logging.Logger
	now      func() time.Time
}

func NewHandler(p *pipeline.Pipeline, cfg Config, logger *logging.Logger) *Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{pipeline: p, cfg: cfg, logger: logger, now: time.Now}
}

// HealthCheck handles GET /healthz
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ReadyCheck handles GET /readyz
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.cfg.Timeouts.ProbeContext(r.Context())
	defer cancel()

	if err := h.pipeline.Recorder().Probe(ctx); err != nil {
		h.logger.WithContext(r.Context()).Warn("readiness probe failed", logging.Error(err))
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Convert handles POST /api/convert
func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	adm, ok := h.admit(w, r, ratelimit.PolicyConvert)
	if !ok {
		return
	}

	up, err := h.readUpload(w, r)
	if err != nil {
		h.fail(w, r, err, pipeline.MsgUnexpected)
		return
	}

	res, err := h.pipeline.Convert(r.Context(), adm.Identity, up)
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// client is gone
		return
	}
	if err != nil {
		h.fail(w, r, err, pipeline.MsgUnexpected)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, models.ConvertResponse{
		Data:        res.Projection.Records,
		RowCount:    res.Projection.RowCount,
		ColumnCount: res.Projection.ColumnCount,
		FileName:    up.Name,
	})
}

// ListHistory handles GET /api/history
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	adm, ok := h.admit(w, r, ratelimit.PolicyHistory)
	if !ok {
		return
	}

	ctx, cancel := h.cfg.Timeouts.QueryContext(r.Context())
	defer cancel()

	records, err := h.pipeline.Recorder().ListFor(ctx, adm.Identity)
	if err != nil {
		h.storeFailure(w, r, "Failed to fetch conversion history", err)
		return
	}

	items := make([]models.ConversionRecord, 0, len(records))
	for _, rec := range records {
		items = append(items, rec.Summary())
	}
	httputil.WriteJSON(w, http.StatusOK, items)
}

// ClearHistory handles DELETE /api/history
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	adm, ok := h.admit(w, r, ratelimit.PolicyHistory)
	if !ok {
		return
	}

	ctx, cancel := h.cfg.Timeouts.WriteContext(r.Context())
	defer cancel()

	n, err := h.pipeline.Recorder().DeleteAllFor(ctx, adm.Identity)
	if err != nil {
		h.storeFailure(w, r, "Failed to clear conversion history", err)
		return
	}

	h.logger.WithContext(r.Context()).Info("history cleared",
		logging.UserID(adm.Identity.ID), "deleted", n)
	httputil.WriteJSON(w, http.StatusOK, models.ClearResponse{
		Message: "History cleared successfully",
		Deleted: n,
	})
}

// GetHistoryItem handles GET /api/history/{id}
func (h *Handler) GetHistoryItem(w http.ResponseWriter, r *http.Request) {
	adm, ok := h.admit(w, r, "")
	if !ok {
		return
	}

	ctx, cancel := h.cfg.Timeouts.QueryContext(r.Context())
	defer cancel()

	rec, err := h.pipeline.Recorder().GetOne(ctx, adm.Identity, r.PathValue("id"))
	if errors.Is(err, history.ErrRecordNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "History item not found")
		return
	}
	if err != nil {
		h.storeFailure(w, r, "Failed to fetch history item", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

// WhoAmI handles GET /api/me
func (h *Handler) WhoAmI(w http.ResponseWriter, r *http.Request) {
	adm, ok := h.admit(w, r, ratelimit.PolicyAuth)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, adm.Identity)
}

// KeepAlive handles GET /api/cron/keep-alive. The scheduler authenticates
// with a shared secret instead of a user token.
func (h *Handler) KeepAlive(w http.ResponseWriter, r *http.Request) {
	log := h.logger.WithContext(r.Context())

	if h.cfg.KeepAliveSecret == "" {
		log.Error("keep-alive secret is not configured")
		httputil.WriteError(w, http.StatusInternalServerError, "Server configuration error")
		return
	}

	want := "Bearer " + h.cfg.KeepAliveSecret
	got := r.Header.Get("Authorization")
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		httputil.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	ctx, cancel := h.cfg.Timeouts.ProbeContext(r.Context())
	defer cancel()

	if err := h.pipeline.Recorder().Probe(ctx); err != nil {
		log.Error("keep-alive probe failed", logging.Error(err))
		h.writeInternal(w, "Keep-alive failed", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, models.KeepAliveResponse{
		Message:   "Keep-alive success",
		Timestamp: h.now().UTC(),
	})
}

// admit runs rate limiting and authentication for r and writes the
// rejection when either fails. Rate limit headers are set whenever a
// budget was charged.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request, policy string) (pipeline.Admission, bool) {
	client := httputil.ClientKey(r)
	adm, err := h.pipeline.Admit(r.Context(), policy, client, r.Header.Get("Authorization"))
	if adm.Limited {
		setRateLimitHeaders(w, adm.Limit)
	}
	if err != nil {
		h.fail(w, r, err, pipeline.MsgInternal)
		return adm, false
	}
	return adm, true
}

func setRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	hdr := w.Header()
	hdr.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	hdr.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	hdr.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if !res.Allowed {
		hdr.Set("Retry-After", strconv.FormatInt(res.RetryAfterSeconds(), 10))
	}
}

// readUpload reads the "file" part of a multipart body bounded by the
// configured upload size.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (pipeline.Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return pipeline.Upload{}, pipeline.ErrUploadTooLarge
		}
		return pipeline.Upload{}, errors.Join(pipeline.ErrNoFile, err)
	}
	defer file.Close()
	defer r.MultipartForm.RemoveAll()

	data, err := io.ReadAll(file)
	if err != nil {
		return pipeline.Upload{}, errors.Join(pipeline.ErrNoFile, err)
	}
	return pipeline.Upload{Name: header.Filename, Data: data}, nil
}

// fail writes the terminal response for a pipeline error. internal is the
// message used for a 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, internal string) {
	kind := pipeline.Classify(err)
	status := pipeline.StatusFor(kind)

	if status == http.StatusInternalServerError {
		h.logger.WithContext(r.Context()).Error("request failed",
			logging.Kind(kind.String()),
			logging.Path(r.URL.Path),
			logging.Error(err))
		h.writeInternal(w, internal, err)
		return
	}

	if kind == pipeline.KindBadRequest && errors.Is(err, pipeline.ErrUploadTooLarge) {
		httputil.WriteError(w, status, pipeline.MsgUploadTooLarge+" (limit "+units.HumanSize(float64(h.cfg.MaxUploadBytes))+")")
		return
	}
	httputil.WriteError(w, status, pipeline.Message(err))
}

func (h *Handler) storeFailure(w http.ResponseWriter, r *http.Request, message string, err error) {
	h.logger.WithContext(r.Context()).Error(message, logging.Path(r.URL.Path), logging.Error(err))
	h.writeInternal(w, message, err)
}

// writeInternal writes a 500, adding err as details in development.
func (h *Handler) writeInternal(w http.ResponseWriter, message string, err error) {
	if h.cfg.Development && err != nil {
		httputil.WriteErrorDetails(w, http.StatusInternalServerError, message, err.Error())
		return
	}
	httputil.WriteError(w, http.StatusInternalServerError, message)
}
