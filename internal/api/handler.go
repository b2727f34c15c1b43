package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/eugenenazirov/stoic-cms/internal/mongoauth"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

const defaultHealthTimeout = 3 * time.Second

// UserSync is the document database bridge served by the mongo-auth routes.
type UserSync interface {
	GetUser(ctx context.Context, email string) (*mongoauth.User, error)
	SyncUser(ctx context.Context, req mongoauth.SyncRequest) (*mongoauth.SyncResult, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

type namedCheck struct {
	name  string
	check HealthCheck
}

// Handler wires the user bridge and health checks into HTTP handlers.
type Handler struct {
	users UserSync

	clock       func() time.Time
	startedAt   time.Time
	environment string
	checks      []namedCheck
	timeout     time.Duration
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithEnvironment sets the environment name reported by the health check.
func WithEnvironment(environment string) HandlerOption {
	return func(h *Handler) {
		h.environment = environment
	}
}

// WithHealthCheck registers a dependency probe run by the health endpoint.
func WithHealthCheck(name string, check HealthCheck) HandlerOption {
	return func(h *Handler) {
		h.checks = append(h.checks, namedCheck{name: name, check: check})
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(users UserSync, opts ...HandlerOption) *Handler {
	h := &Handler{
		users: users,
		clock: func() time.Time {
			return time.Now().UTC()
		},
		environment: "development",
		timeout:     defaultHealthTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	sort.SliceStable(h.checks, func(i, j int) bool {
		return h.checks[i].name < h.checks[j].name
	})
	h.startedAt = h.clock()
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var checks map[string]string
	if len(h.checks) > 0 {
		checks = make(map[string]string, len(h.checks))
	}
	for _, c := range h.checks {
		if err := c.check(ctx); err != nil {
			writeJSON(w, http.StatusInternalServerError, healthErrorResponse{
				Status:  "error",
				Message: fmt.Sprintf("%s check failed: %v", c.name, err),
			})
			return
		}
		checks[c.name] = "ok"
	}

	now := h.clock()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Timestamp:   now,
		Uptime:      now.Sub(h.startedAt).Seconds(),
		Environment: h.environment,
		Checks:      checks,
	})
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetUser(r.Context(), r.PathValue("email"))
	if err != nil {
		switch {
		case errors.Is(err, mongoauth.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "User not found in MongoDB", nil)
		default:
			writeBridgeError(w, err, "Error fetching user from MongoDB")
		}
		return
	}

	writeJSON(w, http.StatusOK, getUserResponse{
		Success: true,
		User:    *user,
	})
}

func (h *Handler) handleSyncUser(w http.ResponseWriter, r *http.Request) {
	var req mongoauth.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body is too large", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request", map[string]string{"error": "unable to parse JSON payload"})
		return
	}

	result, err := h.users.SyncUser(r.Context(), req)
	if err != nil {
		writeBridgeError(w, err, "Error syncing user with MongoDB")
		return
	}

	writeJSON(w, http.StatusOK, syncUserResponse{
		Success:     true,
		Message:     result.Message(),
		Result:      result.Result,
		LocalUserID: result.LocalUserID,
	})
}

// writeBridgeError maps bridge failures; store errors surface as bad requests
// carrying the underlying message.
func writeBridgeError(w http.ResponseWriter, err error, message string) {
	var fieldErrors validation.Errors
	switch {
	case errors.Is(err, mongoauth.ErrInvalidRequest) && errors.As(err, &fieldErrors):
		writeNamedError(w, http.StatusBadRequest, "ValidationError", "Invalid request", map[string]any{"errors": fieldErrors})
	case errors.Is(err, mongoauth.ErrInvalidRequest):
		writeNamedError(w, http.StatusBadRequest, "ValidationError", "Invalid request", map[string]string{"error": err.Error()})
	case errors.Is(err, mongoauth.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Document database is not configured", nil)
	default:
		writeError(w, http.StatusBadRequest, message, map[string]string{"error": err.Error()})
	}
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type healthResponse struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Uptime      float64           `json:"uptime"`
	Environment string            `json:"environment"`
	Checks      map[string]string `json:"checks,omitempty"`
}

type healthErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type getUserResponse struct {
	Success bool           `json:"success"`
	User    mongoauth.User `json:"user"`
}

type syncUserResponse struct {
	Success     bool                  `json:"success"`
	Message     string                `json:"message"`
	Result      mongoauth.WriteResult `json:"result"`
	LocalUserID int64                 `json:"localUserId,omitempty"`
}

type errorResponse struct {
	Data  any       `json:"data"`
	Error errorBody `json:"error"`
}

type errorBody struct {
	Status  int    `json:"status"`
	Name    string `json:"name"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

var errorNames = map[int]string{
	http.StatusBadRequest:            "BadRequestError",
	http.StatusUnauthorized:          "UnauthorizedError",
	http.StatusForbidden:             "ForbiddenError",
	http.StatusNotFound:              "NotFoundError",
	http.StatusRequestEntityTooLarge: "PayloadTooLargeError",
	http.StatusTooManyRequests:       "RateLimitError",
	http.StatusInternalServerError:   "InternalServerError",
	http.StatusServiceUnavailable:    "ServiceUnavailableError",
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string, details any) {
	name, ok := errorNames[status]
	if !ok {
		name = "ApplicationError"
	}
	writeNamedError(w, status, name, message, details)
}

func writeNamedError(w http.ResponseWriter, status int, name, message string, details any) {
	if details == nil {
		details = map[string]any{}
	}
	writeJSON(w, status, errorResponse{
		Error: errorBody{
			Status:  status,
			Name:    name,
			Message: message,
			Details: details,
		},
	})
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal Server Error", map[string]string{"error": err.Error()})
}
