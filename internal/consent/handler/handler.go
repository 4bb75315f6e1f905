package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	consentModel "privileges/internal/consent/models"
	"privileges/internal/consent/service"
	"privileges/internal/platform/metrics"
	"privileges/internal/privilege"
	id "privileges/pkg/domain"
	dErrors "privileges/pkg/domain-errors"
	"privileges/pkg/platform/httputil"
	authmw "privileges/pkg/platform/middleware/auth"
	request "privileges/pkg/platform/middleware/request"
	"privileges/pkg/platform/middleware/requesttime"
	"privileges/pkg/requestcontext"
)

const (
	maxBodyBytes     = 64 << 10
	defaultRateLimit = 30
	requestTimeout   = 30 * time.Second
)

// Service defines the consent operations the handler needs.
type Service interface {
	Resolve(ctx context.Context, userID id.UserID) ([]consentModel.Entry, error)
	Get(ctx context.Context, userID id.UserID, key id.PrivilegeKey) (consentModel.Entry, error)
	ApplyWithNotes(ctx context.Context, userID id.UserID, changes map[id.PrivilegeKey]bool, notes string) ([]consentModel.Entry, error)
}

// Catalog is the read side of the privilege catalog.
type Catalog interface {
	All() []privilege.Definition
}

// Handler serves the privilege endpoints for the authenticated user.
type Handler struct {
	logger       *slog.Logger
	consent      Service
	catalog      Catalog
	metrics      *metrics.Metrics
	jwtValidator authmw.JWTValidator
	validate     *validator.Validate
	applyLimit   int
	timeout      time.Duration
}

type Option func(*Handler)

// WithApplyRateLimit caps POST /privileges per client IP per minute.
func WithApplyRateLimit(perMinute int) Option {
	return func(h *Handler) {
		if perMinute > 0 {
			h.applyLimit = perMinute
		}
	}
}

// WithTimeout bounds every request's context.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// New creates a new privileges Handler.
func New(
	consent Service,
	catalog Catalog,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	jwtValidator authmw.JWTValidator,
	opts ...Option) *Handler {
	h := &Handler{
		logger:       logger,
		consent:      consent,
		catalog:      catalog,
		metrics:      metrics,
		jwtValidator: jwtValidator,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		applyLimit:   defaultRateLimit,
		timeout:      requestTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the privilege routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	limiter := httprate.Limit(h.applyLimit, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.ErrorResponse{
				Error:            "rate_limited",
				ErrorDescription: "too many privilege updates, try again later",
			})
		}),
	)

	r.Route("/privileges", func(pr chi.Router) {
		pr.Use(request.Recovery(h.logger))
		pr.Use(request.RequestID)
		pr.Use(request.Logger(h.logger))
		pr.Use(requesttime.Middleware)
		pr.Use(chimw.Timeout(h.timeout))
		pr.Use(metrics.LatencyMiddleware(h.metrics))
		pr.Use(authmw.RequireAuth(h.jwtValidator, h.logger))

		pr.Get("/", h.handleList)
		// "-" cannot start a privilege key, so the catalog never shadows one.
		pr.Get("/-/catalog", h.handleCatalog)
		pr.Get("/{key}", h.handleGet)
		pr.With(limiter).Post("/", h.handleApply)
	})
}

// currentUser returns the authenticated user, writing an error when the
// context has none.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (id.UserID, bool) {
	ctx := r.Context()
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		// Only possible if RequireAuth is not mounted.
		h.logger.ErrorContext(ctx, "userID missing from context despite auth middleware",
			"request_id", request.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return id.UserID{}, false
	}
	return userID, true
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	entries, err := h.consent.Resolve(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, "failed to resolve privileges", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, consentModel.NewViewResponse(entries))
}

func (h *Handler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, consentModel.NewCatalogResponse(h.catalog.All()))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	key, err := id.ParsePrivilegeKey(chi.URLParam(r, "key"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "privilege not found"))
		return
	}
	entry, err := h.consent.Get(r.Context(), userID, key)
	if err != nil {
		h.writeServiceError(w, r, "failed to get privilege", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, consentModel.NewEntryResponse(entry))
}

// handleApply accepts either a JSON change set, applied as given, or a
// checkbox form, where unchecked catalog keys count as false.
func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	changes, notes, err := h.decodeChanges(r)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid privilege update request",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	entries, err := h.consent.ApplyWithNotes(ctx, userID, changes, notes)
	if err != nil {
		var partial *service.PartialApplicationError
		if errors.As(err, &partial) {
			h.logger.ErrorContext(ctx, "privilege update partially applied",
				"request_id", requestID,
				"committed", len(partial.Committed),
				"error", err,
			)
			committed := make([]string, len(partial.Committed))
			for i, k := range partial.Committed {
				committed[i] = k.String()
			}
			httputil.WriteJSON(w, http.StatusInternalServerError, consentModel.PartialApplicationResponse{
				Error:            string(dErrors.CodePartialApplication),
				ErrorDescription: "some privilege changes were applied before a failure",
				Committed:        committed,
				Failed:           partial.Failed.String(),
			})
			return
		}
		h.writeServiceError(w, r, "failed to apply privilege changes", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, consentModel.NewViewResponse(entries))
}

func (h *Handler) decodeChanges(r *http.Request) (map[id.PrivilegeKey]bool, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return nil, "", dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid form body")
		}
		notes, err := formNotes(r.PostForm)
		if err != nil {
			return nil, "", err
		}
		changes, err := formChanges(r.PostForm, h.catalog.All())
		return changes, notes, err
	}

	var req consentModel.ApplyRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeValidation,
			"changes must hold at most 256 keys of at most 64 characters, notes at most 1000 characters")
	}
	changes, err := normalizeChanges(req.Changes)
	if err != nil {
		return nil, "", err
	}
	return changes, strings.TrimSpace(req.Notes), nil
}

// writeServiceError logs server-side failures and maps every error onto the
// shared envelope. Client errors are logged at warn.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeTimeout, dErrors.CodePartialApplication:
		h.logger.ErrorContext(ctx, msg,
			"request_id", request.GetRequestID(ctx),
			"error", err,
		)
	default:
		h.logger.WarnContext(ctx, msg,
			"request_id", request.GetRequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}
