package upload

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/your-org/eventsphere/internal/domain"
	"github.com/your-org/eventsphere/internal/gate"
	"github.com/your-org/eventsphere/internal/jobs"
	"github.com/your-org/eventsphere/internal/quota"
	"github.com/your-org/eventsphere/internal/store"
)

// multipartOverhead is the body allowance above the file limit for
// boundaries and part headers.
const multipartOverhead = 1 << 20

type StatsReader interface {
	Stats(ctx context.Context, id domain.Identity) quota.Stats
}

type JobEnqueuer interface {
	EnqueueRaw(ctx context.Context, t jobs.Type, payload json.RawMessage, opts ...jobs.Option) (string, error)
}

type HandlerConfig struct {
	MaxSizeBytes      int64
	MultipartMemBytes int64
	RequestTimeout    time.Duration
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	ServiceName       string
}

type HandlerParams struct {
	Config  HandlerConfig
	Service *Service
	Auth    *Authenticator
	Quota   StatsReader
	Jobs    JobEnqueuer
	Health  http.Handler
	Logger  *zap.Logger
}

// HTTPHandler exposes the upload REST endpoints.
type HTTPHandler struct {
	cfg     HandlerConfig
	service *Service
	auth    *Authenticator
	quota   StatsReader
	jobs    JobEnqueuer
	health  http.Handler
	logger  *zap.Logger
	router  chi.Router
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(p HandlerParams) *HTTPHandler {
	cfg := p.Config
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "eventsphere-api"
	}
	h := &HTTPHandler{
		cfg:     cfg,
		service: p.Service,
		auth:    p.Auth,
		quota:   p.Quota,
		jobs:    p.Jobs,
		health:  p.Health,
		logger:  p.Logger.Named("http"),
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Upload-Limit", "X-Upload-Remaining", "X-Upload-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if h.health != nil {
		r.Method(http.MethodGet, "/healthz", h.health)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if h.cfg.RateLimitRequests > 0 {
			r.Use(httprate.LimitByIP(h.cfg.RateLimitRequests, h.cfg.RateLimitWindow))
		}
		r.Use(h.auth.Middleware)
		r.Post("/uploads", h.handleUpload)
		r.Get("/uploads/quota", h.handleQuota)
		r.With(RequireRole(domain.RoleOrganizer, domain.RoleAdmin)).
			Post("/events/{id}/photos", h.handleEventPhoto)
	})

	r.Route("/internal/v1", func(r chi.Router) {
		r.Use(h.auth.Middleware)
		r.Use(RequireRole(domain.RoleAdmin))
		r.Post("/jobs", h.handleEnqueue)
	})

	h.router = r
}

// Router exposes the configured router wrapped in server tracing.
func (h *HTTPHandler) Router() http.Handler {
	return otelhttp.NewHandler(h.router, h.cfg.ServiceName)
}

func (h *HTTPHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	data, opts, ok := h.readFile(w, r, "file")
	if !ok {
		return
	}

	result, err := h.service.ProcessUpload(r.Context(), data, opts)
	if err != nil {
		h.writeUploadError(w, r, err)
		return
	}
	setQuotaHeaders(w, result.Quota)
	writeData(w, http.StatusOK, result, "Image uploaded successfully")
}

func (h *HTTPHandler) handleEventPhoto(w http.ResponseWriter, r *http.Request) {
	data, opts, ok := h.readFile(w, r, "photo")
	if !ok {
		return
	}

	result, err := h.service.AddEventPhoto(r.Context(), chi.URLParam(r, "id"), data, opts)
	if err != nil {
		h.writeUploadError(w, r, err)
		return
	}
	setQuotaHeaders(w, result.Quota)
	writeData(w, http.StatusOK, result, "Photo uploaded successfully")
}

func (h *HTTPHandler) handleQuota(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	stats := h.quota.Stats(r.Context(), id)
	writeData(w, http.StatusOK, map[string]any{
		"role":            id.Role,
		"limit":           stats.Limit,
		"used":            stats.Used,
		"remaining":       stats.Remaining,
		"resetsInSeconds": int64(stats.ResetsIn.Seconds()),
	}, "Upload stats retrieved")
}

type enqueueRequest struct {
	Type        jobs.Type       `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	MaxAttempts int             `json:"maxAttempts,omitempty"`
}

func (h *HTTPHandler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be a JSON job")
		return
	}
	if !slices.Contains(jobs.KnownTypes(), req.Type) {
		writeError(w, http.StatusBadRequest, "unknown_job_type", "unknown job type: "+string(req.Type))
		return
	}
	if len(req.Payload) == 0 || !json.Valid(req.Payload) {
		writeError(w, http.StatusBadRequest, "invalid_payload", "payload must be a JSON object")
		return
	}

	var opts []jobs.Option
	if req.MaxAttempts > 0 {
		opts = append(opts, jobs.WithMaxAttempts(req.MaxAttempts))
	}
	id, err := h.jobs.EnqueueRaw(r.Context(), req.Type, req.Payload, opts...)
	if err != nil {
		h.logger.Error("enqueue job", zap.String("type", string(req.Type)), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "job queue unavailable")
		return
	}
	writeData(w, http.StatusAccepted, map[string]string{"jobId": id, "type": string(req.Type)}, "Job enqueued")
}

// readFile pulls one multipart file part into memory, bounded by the size
// limit plus one byte so oversize files reach the gate as oversize.
func (h *HTTPHandler) readFile(w http.ResponseWriter, r *http.Request, field string) ([]byte, UploadOptions, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxSizeBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.cfg.MultipartMemBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, gate.ReasonTooLarge, "payload too large")
			return nil, UploadOptions{}, false
		}
		writeError(w, http.StatusBadRequest, "invalid_form", "invalid multipart form")
		return nil, UploadOptions{}, false
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	file, header, err := r.FormFile(field)
	if err != nil {
		writeError(w, http.StatusBadRequest, "no_file", "No file uploaded")
		return nil, UploadOptions{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxSizeBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_form", "could not read uploaded file")
		return nil, UploadOptions{}, false
	}

	opts := UploadOptions{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
	}
	if id, ok := IdentityFrom(r.Context()); ok {
		opts.Identity = &id
	}
	return data, opts, true
}

func (h *HTTPHandler) writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	if ge, ok := gate.AsError(err); ok {
		setQuotaHeaders(w, ge.Quota)
		writeGateError(w, ge)
		return
	}
	switch {
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "Only organizer can upload photos")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Event not found")
	default:
		h.logger.Error("upload failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "upload_failed", "upload failed")
	}
}

func statusFor(ge *gate.Error) int {
	switch {
	case ge.Kind == gate.KindDependency:
		return http.StatusServiceUnavailable
	case ge.Reason == gate.ReasonTooLarge:
		return http.StatusRequestEntityTooLarge
	case ge.Reason == gate.ReasonQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}

func setQuotaHeaders(w http.ResponseWriter, d *quota.Decision) {
	if d == nil || d.Degraded {
		return
	}
	w.Header().Set("X-Upload-Limit", strconv.FormatInt(d.Limit, 10))
	w.Header().Set("X-Upload-Remaining", strconv.FormatInt(d.Remaining, 10))
	w.Header().Set("X-Upload-Reset", strconv.FormatInt(int64(d.ResetsIn.Seconds()), 10))
}

type apiError struct {
	Stage      string   `json:"stage,omitempty"`
	Reason     string   `json:"reason"`
	Signatures []string `json:"signatures,omitempty"`
}

func writeGateError(w http.ResponseWriter, ge *gate.Error) {
	writeJSON(w, statusFor(ge), map[string]any{
		"success": false,
		"message": ge.Message,
		"errors": []apiError{{
			Stage:      string(ge.Stage),
			Reason:     ge.Reason,
			Signatures: ge.Signatures,
		}},
	})
}

func writeData(w http.ResponseWriter, status int, data any, msg string) {
	writeJSON(w, status, map[string]any{
		"statusCode": status,
		"success":    true,
		"message":    msg,
		"data":       data,
	})
}

// encodeFailure is sent when a payload cannot be marshalled.
const encodeFailure = `{"success":false,"message":"response encoding failed","errors":[{"reason":"encode_failed"}]}` + "\n"

// writeJSON marshals payload before touching the response so an encoding
// failure can still change the status.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, encodeFailure)
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, reason, msg string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"message": msg,
		"errors":  []apiError{{Reason: reason}},
	})
}
