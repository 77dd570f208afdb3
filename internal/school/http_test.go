package school_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"school-service/common/httputil"
	"school-service/internal/geo"
	"school-service/internal/metrics"
	"school-service/internal/school"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerEnv struct {
	router http.Handler
	repo   school.Repository
}

func newHandlerEnv(t *testing.T) handlerEnv {
	t.Helper()

	repo, _ := newSQLiteRepository(t)
	service := school.NewService(repo, nil, discardLogger())
	handler := school.NewHandler(service, discardLogger(), metrics.NewMock())

	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	return handlerEnv{router: router, repo: repo}
}

func (e handlerEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func (e handlerEnv) count(t *testing.T) int {
	t.Helper()
	all, err := e.repo.GetAll(context.Background())
	require.NoError(t, err)
	return len(all)
}

const exampleSchool = `{"name":"Example School","address":"123 Main Street","latitude":40.7128,"longitude":-74.0060}`

func TestHandler_AddSchool_Single(t *testing.T) {
	env := newHandlerEnv(t)

	w := env.do(t, http.MethodPost, "/addSchool", exampleSchool)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	resp := decode[school.AddSchoolResponse](t, w)
	assert.Equal(t, "School added successfully", resp.Message)
	assert.Equal(t, 1, resp.ID)
	assert.Equal(t, 1, resp.School.ID)
	assert.Equal(t, "Example School", resp.School.Name)
	assert.Equal(t, "123 Main Street", resp.School.Address)
	assert.InDelta(t, 40.7128, resp.School.Latitude, 1e-9)
	assert.InDelta(t, -74.006, resp.School.Longitude, 1e-9)
}

func TestHandler_AddSchool_ResponseKeys(t *testing.T) {
	env := newHandlerEnv(t)

	w := env.do(t, http.MethodPost, "/addSchool", exampleSchool)
	require.Equal(t, http.StatusCreated, w.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Contains(t, raw, "message")
	assert.Contains(t, raw, "id")
	assert.Contains(t, raw, "school")

	var persisted map[string]any
	require.NoError(t, json.Unmarshal(raw["school"], &persisted))
	for _, key := range []string{"id", "name", "address", "latitude", "longitude", "created_at"} {
		assert.Contains(t, persisted, key)
	}
}

func TestHandler_AddSchool_Batch(t *testing.T) {
	env := newHandlerEnv(t)

	body := `[
		{"name":"Example School","address":"123 Main Street","latitude":40.7128,"longitude":-74.0060},
		{"name":"Test Academy","address":"456 Park Avenue","latitude":40.7135,"longitude":-74.0046}
	]`
	w := env.do(t, http.MethodPost, "/addSchool", body)
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decode[school.AddSchoolsResponse](t, w)
	assert.Equal(t, "2 schools added successfully", resp.Message)
	assert.Equal(t, []int{1, 2}, ids(resp.Schools))
	assert.Equal(t, "Test Academy", resp.Schools[1].Name)
}

func TestHandler_AddSchool_InvalidBatchInsertsNothing(t *testing.T) {
	env := newHandlerEnv(t)

	body := `[
		{"name":"Example School","address":"123 Main Street","latitude":40.7128,"longitude":-74.0060},
		{"name":"Broken","address":"456 Park Avenue","latitude":"north","longitude":-74.0046}
	]`
	w := env.do(t, http.MethodPost, "/addSchool", body)
	require.Equal(t, http.StatusBadRequest, w.Code)

	resp := decode[school.ValidationErrorResponse](t, w)
	assert.Equal(t, "Validation failed for one or more schools", resp.Error)
	require.Len(t, resp.Details, 1)
	assert.Equal(t, 1, resp.Details[0].Index)
	assert.Equal(t, `"latitude" must be a number`, resp.Details[0].Error)

	assert.Zero(t, env.count(t))
}

func TestHandler_AddSchool_BadBodies(t *testing.T) {
	env := newHandlerEnv(t)

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"empty array", `[]`, "No valid school data provided"},
		{"malformed json", `{"name":`, "Invalid request body"},
		{"scalar", `42`, "Invalid request body"},
		{"empty body", ``, "Invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/addSchool", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)

			resp := decode[httputil.ErrorResponse](t, w)
			assert.Equal(t, tt.wantErr, resp.Error)
		})
	}

	t.Run("missing field on single object", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/addSchool", `{"name":"A","latitude":1,"longitude":2}`)
		require.Equal(t, http.StatusBadRequest, w.Code)

		resp := decode[school.ValidationErrorResponse](t, w)
		require.Len(t, resp.Details, 1)
		assert.Equal(t, `"address" is required`, resp.Details[0].Error)
		assert.Equal(t, []string{`"address" is required`}, resp.Details[0].Errors)
	})

	assert.Zero(t, env.count(t))
}

func TestHandler_ListSchools(t *testing.T) {
	env := newHandlerEnv(t)

	w := env.do(t, http.MethodGet, "/listSchools", "")
	require.Equal(t, http.StatusOK, w.Code)
	empty := decode[school.ListSchoolsResponse](t, w)
	assert.Equal(t, "Schools retrieved successfully", empty.Message)
	assert.Zero(t, empty.Count)
	assert.NotNil(t, empty.Schools)

	createSchool(t, env.repo, "One", 1, 1)
	createSchool(t, env.repo, "Two", 2, 2)

	w = env.do(t, http.MethodGet, "/listSchools", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[school.ListSchoolsResponse](t, w)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, []int{1, 2}, ids(resp.Schools))
}

func TestHandler_ListSchools_ByDistance(t *testing.T) {
	env := newHandlerEnv(t)

	createSchool(t, env.repo, "London", 51.5074, -0.1278)
	createSchool(t, env.repo, "Test Academy", 40.7135, -74.0046)
	createSchool(t, env.repo, "Boston", 42.3601, -71.0589)
	createSchool(t, env.repo, "Example School", 40.7128, -74.006)

	w := env.do(t, http.MethodGet, "/listSchools?latitude=40.7128&longitude=-74.0060", "")
	require.Equal(t, http.StatusOK, w.Code)

	sorted := decode[[]school.SchoolDistance](t, w)
	require.Len(t, sorted, 4)
	for i := 1; i < len(sorted); i++ {
		assert.LessOrEqual(t, sorted[i-1].Distance, sorted[i].Distance)
	}
	assert.Equal(t, "Example School", sorted[0].Name)
	assert.Equal(t, 4, sorted[0].ID)
	assert.Equal(t, "London", sorted[3].Name)

	origin := geo.Point{Lat: 40.7128, Lon: -74.006}
	assert.InDelta(t, geo.Distance(origin, geo.Point{Lat: 42.3601, Lon: -71.0589}), sorted[2].Distance, 1e-6)
}

func TestHandler_ListSchools_InvalidCoordinates(t *testing.T) {
	env := newHandlerEnv(t)
	createSchool(t, env.repo, "One", 1, 1)

	for _, query := range []string{
		"latitude=abc&longitude=-74.0060",
		"latitude=40.7&longitude=east",
		"latitude=NaN&longitude=1",
		"latitude=1&longitude=Inf",
		"latitude=0x1p4&longitude=1",
	} {
		t.Run(query, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/listSchools?"+query, "")
			require.Equal(t, http.StatusBadRequest, w.Code)

			resp := decode[httputil.ErrorResponse](t, w)
			assert.Equal(t, "Invalid latitude or longitude", resp.Error)
		})
	}
}

func TestHandler_ListSchools_OneCoordinateIgnored(t *testing.T) {
	env := newHandlerEnv(t)
	createSchool(t, env.repo, "One", 1, 1)

	for _, query := range []string{"latitude=40.7", "longitude=abc", "latitude=&longitude=1"} {
		t.Run(query, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/listSchools?"+query, "")
			require.Equal(t, http.StatusOK, w.Code)

			resp := decode[school.ListSchoolsResponse](t, w)
			assert.Equal(t, 1, resp.Count)
		})
	}
}

func TestHandler_DeleteSchool(t *testing.T) {
	env := newHandlerEnv(t)

	createSchool(t, env.repo, "One", 1, 1)
	createSchool(t, env.repo, "Two", 2, 2)
	createSchool(t, env.repo, "Three", 3, 3)

	w := env.do(t, http.MethodDelete, "/deleteSchool/2", "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[school.DeleteSchoolResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "School with ID 2 deleted successfully", resp.Message)
	assert.Equal(t, 2, resp.ID)

	w = env.do(t, http.MethodDelete, "/deleteSchool/2", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	notFound := decode[httputil.ErrorResponse](t, w)
	assert.Equal(t, "School not found", notFound.Error)

	// The freed id is handed out again.
	w = env.do(t, http.MethodPost, "/addSchool", exampleSchool)
	require.Equal(t, http.StatusCreated, w.Code)
	added := decode[school.AddSchoolResponse](t, w)
	assert.Equal(t, 2, added.ID)
}

func TestHandler_DeleteSchool_InvalidID(t *testing.T) {
	env := newHandlerEnv(t)

	for _, id := range []string{"abc", "1.5", "2x"} {
		t.Run(id, func(t *testing.T) {
			w := env.do(t, http.MethodDelete, "/deleteSchool/"+id, "")
			require.Equal(t, http.StatusBadRequest, w.Code)

			resp := decode[httputil.ErrorResponse](t, w)
			assert.Equal(t, "Invalid school ID", resp.Error)
			assert.Equal(t, "The ID must be a numeric value", resp.Message)
		})
	}

	w := env.do(t, http.MethodDelete, "/deleteSchool/999", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// stubService returns fixed errors to exercise the error mapping.
type stubService struct {
	school.Service
	created []school.School
	err     error
}

func (s *stubService) AddSchools(context.Context, []school.School) ([]school.School, error) {
	return s.created, s.err
}

func (s *stubService) ListSchools(context.Context) ([]school.School, error) {
	return nil, s.err
}

func (s *stubService) DeleteSchool(context.Context, int) error {
	return s.err
}

func newStubRouter(service school.Service) http.Handler {
	handler := school.NewHandler(service, discardLogger(), metrics.NewMock())
	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	return router
}

func TestHandler_ServiceErrors(t *testing.T) {
	dbErr := errors.New("connection refused")

	t.Run("add database failure keeps committed schools", func(t *testing.T) {
		router := newStubRouter(&stubService{
			created: []school.School{{ID: 1, Name: "A"}},
			err:     dbErr,
		})

		req := httptest.NewRequest(http.MethodPost, "/addSchool", bytes.NewBufferString(`[`+exampleSchool+`,`+exampleSchool+`]`))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusInternalServerError, w.Code)
		resp := decode[school.AddFailureResponse](t, w)
		assert.Equal(t, "Database insertion failed", resp.Error)
		assert.Equal(t, "connection refused", resp.Details)
		assert.Equal(t, []int{1}, ids(resp.Schools))
	})

	t.Run("add id conflict", func(t *testing.T) {
		router := newStubRouter(&stubService{err: school.ErrIDConflict})

		req := httptest.NewRequest(http.MethodPost, "/addSchool", strings.NewReader(exampleSchool))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusConflict, w.Code)
		resp := decode[school.AddFailureResponse](t, w)
		assert.Equal(t, "School ID conflict", resp.Error)
		assert.NotNil(t, resp.Schools)
		assert.Empty(t, resp.Schools)
	})

	t.Run("list database failure", func(t *testing.T) {
		router := newStubRouter(&stubService{err: dbErr})

		req := httptest.NewRequest(http.MethodGet, "/listSchools", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusInternalServerError, w.Code)
		resp := decode[httputil.ErrorResponse](t, w)
		assert.Equal(t, "Database query failed", resp.Error)
		assert.Equal(t, "connection refused", resp.Details)
	})

	t.Run("delete database failure", func(t *testing.T) {
		router := newStubRouter(&stubService{err: dbErr})

		req := httptest.NewRequest(http.MethodDelete, "/deleteSchool/1", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusInternalServerError, w.Code)
		resp := decode[httputil.ErrorResponse](t, w)
		assert.Equal(t, "Failed to delete school", resp.Error)
	})
}
