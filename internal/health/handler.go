package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"school-service/common/httputil"
	"school-service/common/metrics"
	"school-service/internal/db"

	"github.com/go-chi/chi/v5"
	"github.com/uptrace/bun"
)

const (
	DependencyDatabase = "database"

	checkTimeout = 2 * time.Second
)

// Database is the part of *bun.DB the probes need.
type Database interface {
	bun.IDB
	PingContext(ctx context.Context) error
}

type Handler struct {
	db      Database
	metrics *metrics.HealthMetrics
	logger  *slog.Logger
}

func NewHandler(database Database, m *metrics.HealthMetrics, logger *slog.Logger) *Handler {
	return &Handler{
		db:      database,
		metrics: m,
		logger:  logger,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/health", h.Health)
	router.Get("/ready", h.Ready)
	router.Get("/test-db", h.TestDB)
}

type HealthResponse struct {
	Status string `json:"status"`
}

type TestDBResponse struct {
	Status  string    `json:"status"`
	DBTime  time.Time `json:"dbTime"`
	Message string    `json:"message"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.RespondWithJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready reports 503 while the database cannot be reached.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.ping(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "readiness check failed", "error", err)
		httputil.RespondWithJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, HealthResponse{Status: "ready"})
}

func (h *Handler) TestDB(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.ping(ctx); err != nil {
		h.logger.ErrorContext(ctx, "database test failed", "error", err)
		httputil.RespondWithJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{
			Error:   "Test failed",
			Message: err.Error(),
		})
		return
	}

	now, err := db.Now(ctx, h.db)
	if err != nil {
		h.logger.ErrorContext(ctx, "database test failed", "error", err)
		httputil.RespondWithJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{
			Error:   "Test failed",
			Message: err.Error(),
		})
		return
	}

	httputil.RespondWithJSON(w, http.StatusOK, TestDBResponse{
		Status:  "success",
		DBTime:  now,
		Message: "Database connection successful",
	})
}

func (h *Handler) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := h.db.PingContext(ctx)
	h.metrics.RecordDependencyCheck(ctx, DependencyDatabase, time.Since(start), err)
	return err
}
