package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"lead-qualifier/internal/dispatch"
	"lead-qualifier/internal/domain"
	"lead-qualifier/internal/metrics"
	"lead-qualifier/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 1 << 20

	seenMessagesSize = 10_000
	seenMessagesTTL  = time.Hour
)

type Submitter interface {
	Submit(ctx context.Context, job dispatch.Job) error
}

type ReplyHandler interface {
	HandleReply(ctx context.Context, msg domain.InboundMessage) error
}

type Welcomer interface {
	Trigger(ctx context.Context, leadID string) (usecase.TriggerOutput, error)
	CancelPending(ctx context.Context, leadID string) (bool, error)
}

type SessionReader interface {
	Get(ctx context.Context, phone string) (domain.Session, bool, error)
}

type PendingChecker interface {
	Pending(key string) bool
}

// Deps are the collaborators of the HTTP surface. All fields except
// AppSecret and RequireSignature are required.
type Deps struct {
	VerifyToken      string
	AppSecret        string
	RequireSignature bool
	// BusinessAccountID filters delivery entries; empty accepts all.
	BusinessAccountID string

	Dispatcher Submitter
	Replies    ReplyHandler
	Welcome    Welcomer
	Sessions   SessionReader
	Pending    PendingChecker
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

type Handler struct {
	deps     Deps
	validate *validator.Validate
	// seen holds provider message ids already queued, so redeliveries are
	// not processed twice.
	seen *expirable.LRU[string, struct{}]
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func NewHandler(d Deps) (*Handler, error) {
	switch {
	case d.VerifyToken == "":
		return nil, errors.New("handler: verify token must not be empty")
	case d.Dispatcher == nil:
		return nil, errors.New("handler: dispatcher must not be nil")
	case d.Replies == nil:
		return nil, errors.New("handler: reply handler must not be nil")
	case d.Welcome == nil:
		return nil, errors.New("handler: welcome service must not be nil")
	case d.Sessions == nil:
		return nil, errors.New("handler: session store must not be nil")
	case d.Pending == nil:
		return nil, errors.New("handler: pending checker must not be nil")
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Handler{
		deps:     d,
		validate: validator.New(),
		seen:     expirable.NewLRU[string, struct{}](seenMessagesSize, nil, seenMessagesTTL),
	}, nil
}

// Routes builds the chi router with every endpoint of the service.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(correlationID)
	r.Use(requestLogger(h.deps.Logger))

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", h.deps.Metrics.Handler())

	r.Get("/webhook", h.verifyWebhook)
	r.Post("/webhook", h.receiveWebhook)

	r.Route("/api/qualification", func(r chi.Router) {
		r.Post("/trigger", h.trigger)
		r.Delete("/pending/{leadId}", h.cancelPending)
		r.Get("/sessions/{phone}", h.sessionSnapshot)
	})
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationHeader)
		if id == "" {
			id = chimiddleware.GetReqID(r.Context())
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("correlation_id", w.Header().Get(correlationHeader)),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var uerr *usecase.Error
	if !errors.As(err, &uerr) {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
		return
	}
	writeJSON(w, statusFor(uerr.Code), errorResponse{Error: string(uerr.Code), Reason: uerr.Reason})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorNoAssignment:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
