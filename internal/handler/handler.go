// Package handler содержит HTTP-обработчики страниц и API сервиса лояльности.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-points/internal/metrics"
	"github.com/mmeshcher/loyalty-points/internal/middleware"
	"github.com/mmeshcher/loyalty-points/internal/model"
	"github.com/mmeshcher/loyalty-points/internal/repository"
	"github.com/mmeshcher/loyalty-points/internal/service"
	"github.com/mmeshcher/loyalty-points/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Ping(ctx context.Context) error

	Login(ctx context.Context, email, password string) (model.Identity, error)
	StartLinkLogin(ctx context.Context, email string) (uuid.UUID, error)
	VerifyLinkLogin(ctx context.Context, challengeID uuid.UUID, code string) (model.Identity, error)
	LinkProfile(ctx context.Context, userID uuid.UUID, role model.Role, clientID *uuid.UUID) error

	ListClients(ctx context.Context, search string) ([]model.Client, error)
	GetClient(ctx context.Context, id uuid.UUID) (*model.Client, error)
	CreateClient(ctx context.Context, nc model.NewClient) (*model.Client, error)
	UpdateClient(ctx context.Context, id uuid.UUID, upd model.ClientUpdate) (*model.Client, error)
	DeleteClient(ctx context.Context, id uuid.UUID) error
	AdjustPoints(ctx context.Context, id uuid.UUID, delta int64, reason string) (*service.AdjustmentResult, error)
	AddSpending(ctx context.Context, id uuid.UUID, amount float64, description string) (*model.Client, error)
	ListAdjustments(ctx context.Context, clientID uuid.UUID) ([]model.PointsAdjustment, error)
	ListSpending(ctx context.Context, clientID uuid.UUID) ([]model.SpendingRecord, error)

	OwnClient(ctx context.Context, identity model.Identity) (*model.Client, error)
	UpdateOwnPhone(ctx context.Context, identity model.Identity, phone string) (*model.Client, error)
	OwnAdjustments(ctx context.Context, identity model.Identity) ([]model.PointsAdjustment, error)
	OwnSpending(ctx context.Context, identity model.Identity) ([]model.SpendingRecord, error)
}

// Options содержит настройки маршрутизатора.
type Options struct {
	Metrics           *metrics.Metrics
	AllowedOrigins    []string
	AuthRatePerMinute int
	TrustedProxies    []netip.Prefix
}

// Handler реализует HTTP-обработчики сервиса лояльности.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	rateLimiter    *middleware.RateLimiter
	metrics        *metrics.Metrics
	allowedOrigins []string
	trustedProxies []netip.Prefix
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, opts Options) *Handler {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		rateLimiter:    middleware.NewRateLimiter(opts.AuthRatePerMinute, logger),
		metrics:        opts.Metrics,
		allowedOrigins: origins,
		trustedProxies: opts.TrustedProxies,
	}
}

type errorResponse struct {
	Error  string                  `json:"error"`
	Fields []validation.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Error: message})
}

// handleError переводит ошибку сервиса в HTTP-ответ; непредвиденные ошибки пишутся в журнал.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var verr *service.ValidationError

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: verr.Fields})
	case errors.Is(err, repository.ErrClientNotFound):
		writeError(w, http.StatusNotFound, "client not found")
	case errors.Is(err, repository.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, service.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "profile not found")
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrInvalidLoginCode):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		h.logger.Error(msg,
			zap.Error(err),
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		)
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusNotFound, "client not found")
		return uuid.Nil, false
	}
	return id, true
}

// Healthz проверяет доступность хранилища.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
