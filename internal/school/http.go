package school

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"school-service/common/httputil"
	"school-service/internal/geo"
	"school-service/internal/metrics"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	service   Service
	validator *Validator
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewHandler(service Service, logger *slog.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{
		service:   service,
		validator: NewValidator(),
		logger:    logger,
		metrics:   metrics,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Post("/addSchool", h.AddSchool)
	router.Get("/listSchools", h.ListSchools)
	router.Delete("/deleteSchool/{id}", h.DeleteSchool)
}

type AddSchoolResponse struct {
	Message string `json:"message"`
	ID      int    `json:"id"`
	School  School `json:"school"`
}

type AddSchoolsResponse struct {
	Message string   `json:"message"`
	Schools []School `json:"schools"`
}

// AddFailureResponse carries the schools committed before the failing entry.
type AddFailureResponse struct {
	httputil.ErrorResponse
	Schools []School `json:"schools"`
}

type ValidationErrorResponse struct {
	Error   string       `json:"error"`
	Details []EntryError `json:"details"`
}

type ListSchoolsResponse struct {
	Message string   `json:"message"`
	Count   int      `json:"count"`
	Schools []School `json:"schools"`
}

type DeleteSchoolResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      int    `json:"id"`
}

func (h *Handler) AddSchool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		httputil.RespondWithErrorDetails(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	req, err := ParseAddRequest(body)
	if err != nil {
		h.handleServiceError(w, r, err, "Invalid request body")
		return
	}

	if len(req.Entries) == 0 {
		httputil.RespondWithError(w, http.StatusBadRequest, "No valid school data provided")
		return
	}

	schools, failures := h.validator.ValidateAll(req.Entries)
	if len(failures) > 0 {
		h.logger.InfoContext(ctx, "rejecting invalid school payload",
			"entries", len(req.Entries),
			"invalid", len(failures),
		)
		h.metrics.RecordValidationFailures(ctx, len(failures))
		httputil.RespondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
			Error:   "Validation failed for one or more schools",
			Details: failures,
		})
		return
	}

	h.logger.InfoContext(ctx, "adding schools", "count", len(schools), "batch", req.Batch)
	created, err := h.service.AddSchools(ctx, schools)
	h.metrics.RecordSchoolsCreated(ctx, len(created))
	if err != nil {
		status, resp := h.errorResponse(ctx, err, "Database insertion failed")
		if created == nil {
			created = []School{}
		}
		httputil.RespondWithJSON(w, status, AddFailureResponse{ErrorResponse: resp, Schools: created})
		return
	}

	if !req.Batch {
		httputil.RespondWithJSON(w, http.StatusCreated, AddSchoolResponse{
			Message: "School added successfully",
			ID:      created[0].ID,
			School:  created[0],
		})
		return
	}

	httputil.RespondWithJSON(w, http.StatusCreated, AddSchoolsResponse{
		Message: fmt.Sprintf("%d schools added successfully", len(created)),
		Schools: created,
	})
}

// ListSchools sorts by distance only when both coordinates are supplied.
func (h *Handler) ListSchools(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()
	latRaw, lonRaw := query.Get("latitude"), query.Get("longitude")

	if latRaw != "" && lonRaw != "" {
		origin, err := parseOrigin(latRaw, lonRaw)
		if err != nil {
			httputil.RespondWithError(w, http.StatusBadRequest, "Invalid latitude or longitude")
			return
		}

		h.logger.InfoContext(ctx, "fetching schools by distance", "latitude", origin.Lat, "longitude", origin.Lon)
		sorted, err := h.service.ListSchoolsByDistance(ctx, origin)
		if err != nil {
			h.handleServiceError(w, r, err, "Database query failed")
			return
		}

		h.metrics.RecordSchoolsListViewed(ctx, true)
		httputil.RespondWithJSON(w, http.StatusOK, sorted)
		return
	}

	h.logger.InfoContext(ctx, "fetching all schools")
	schools, err := h.service.ListSchools(ctx)
	if err != nil {
		h.handleServiceError(w, r, err, "Database query failed")
		return
	}

	h.metrics.RecordSchoolsListViewed(ctx, false)
	httputil.RespondWithJSON(w, http.StatusOK, ListSchoolsResponse{
		Message: "Schools retrieved successfully",
		Count:   len(schools),
		Schools: schools,
	})
}

func (h *Handler) DeleteSchool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		httputil.RespondWithJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
			Error:   "Invalid school ID",
			Message: "The ID must be a numeric value",
		})
		return
	}

	h.logger.InfoContext(ctx, "deleting school", "id", id)
	if err := h.service.DeleteSchool(ctx, id); err != nil {
		h.handleServiceError(w, r, err, "Failed to delete school")
		return
	}

	h.metrics.RecordSchoolDeleted(ctx)

	httputil.RespondWithJSON(w, http.StatusOK, DeleteSchoolResponse{
		Success: true,
		Message: fmt.Sprintf("School with ID %d deleted successfully", id),
		ID:      id,
	})
}

func parseOrigin(latRaw, lonRaw string) (geo.Point, error) {
	lat, err := parseDecimal(latRaw)
	if err != nil {
		return geo.Point{}, err
	}
	lon, err := parseDecimal(lonRaw)
	if err != nil {
		return geo.Point{}, err
	}
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return geo.Point{}, fmt.Errorf("%w: coordinates must be finite", ErrInvalidInput)
	}
	return geo.Point{Lat: lat, Lon: lon}, nil
}

// handleServiceError writes the status for err. fallback names the failed
// operation when err is not one of the package sentinels.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status, resp := h.errorResponse(r.Context(), err, fallback)
	httputil.RespondWithJSON(w, status, resp)
}

func (h *Handler) errorResponse(ctx context.Context, err error, fallback string) (int, httputil.ErrorResponse) {
	switch {
	case errors.Is(err, ErrSchoolNotFound):
		h.logger.InfoContext(ctx, "school not found")
		return http.StatusNotFound, httputil.ErrorResponse{Error: "School not found"}
	case errors.Is(err, ErrInvalidInput):
		h.logger.InfoContext(ctx, "invalid input", "error", err)
		return http.StatusBadRequest, httputil.ErrorResponse{Error: "Invalid request body", Details: err.Error()}
	case errors.Is(err, ErrIDConflict):
		h.logger.WarnContext(ctx, "school id conflict", "error", err)
		return http.StatusConflict, httputil.ErrorResponse{Error: "School ID conflict", Details: err.Error()}
	default:
		h.logger.ErrorContext(ctx, fallback, "error", err)
		return http.StatusInternalServerError, httputil.ErrorResponse{Error: fallback, Details: err.Error()}
	}
}
