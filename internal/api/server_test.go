package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sle-predictor-server/internal/cache"
	"github.com/sle-predictor-server/internal/config"
	"github.com/sle-predictor-server/internal/domain"
	"github.com/sle-predictor-server/internal/history"
	"github.com/sle-predictor-server/internal/render"
	"github.com/sle-predictor-server/internal/service"
	"github.com/sle-predictor-server/pkg/fields"
)

// brokenModel never loads.
type brokenModel struct{}

func (brokenModel) Load(context.Context) error { return errors.New("weights missing") }
func (brokenModel) Predict(context.Context, *fields.ValidatedRecord) (domain.RiskScores, error) {
	return domain.RiskScores{}, errors.New("not loaded")
}
func (brokenModel) Version() string { return "broken" }

type stubDatabase struct{ err error }

func (d stubDatabase) Health(context.Context) error { return d.err }

type testEnv struct {
	server *Server
	store  *history.SQLiteStore
}

func newTestEnv(t *testing.T, model service.Model, db HealthChecker) *testEnv {
	t.Helper()

	manager, err := config.NewManager("")
	require.NoError(t, err)
	manager.GetConfig().RateLimit.Enabled = false
	manager.GetConfig().Logging.Level = "info"

	logger, _ := test.NewNullLogger()

	store, err := history.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	if model == nil {
		model = service.NewHeuristicModel(service.ZeroNoise{}, service.DefaultModelVersion, 0)
	}
	scorer := service.NewRiskScorer(model, domain.BreakerConfig{}, logger)
	predictor := service.NewPredictionService(scorer, store, cache.NewMemoryCache(10, time.Minute), domain.ModelConfig{}, logger)

	server := NewServer(manager, Dependencies{
		Predictor: predictor,
		Renderer:  render.NewPDFRenderer("test"),
		Database:  db,
		Logger:    logger,
	})
	gin.SetMode(gin.TestMode)
	return &testEnv{server: server, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

// baselineSubmission is a complete record with every symptom and marker absent.
func baselineSubmission(overrides map[string]any) map[string]any {
	values := map[string]any{
		"Age": 25, "Sex": 0, "Ethnicity": 0,
		"Fatigue": 0, "Malar_Rash": 0, "Arthritis": 0, "Renal_Disorder": 0, "Fever": 0,
		"ANA_Positive": 0, "Anti_dsDNA": 10, "Complement_C3": 90, "Complement_C4": 20,
		"Creatinine": 0.8, "Fatigue_Score": 2, "QoL": 80, "Pain_Score": 1,
	}
	for k, v := range overrides {
		if v == nil {
			delete(values, k)
			continue
		}
		values[k] = v
	}
	return map[string]any{
		"patient_name": "Jane Doe",
		"doctor_notes": "Follow up in 3 months",
		"fields":       values,
	}
}

func (e *testEnv) createPrediction(t *testing.T) *service.Prediction {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/predictions", baselineSubmission(nil))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var got service.Prediction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	return &got
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		db         HealthChecker
		wantStatus int
		wantDB     any
	}{
		{"No database", nil, http.StatusOK, nil},
		{"Database up", stubDatabase{}, http.StatusOK, "ok"},
		{"Database down", stubDatabase{err: errors.New("refused")}, http.StatusServiceUnavailable, "unreachable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil, tt.db)

			w := env.do(t, http.MethodGet, "/health", nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantDB, body["database"])

			model := body["model"].(map[string]any)
			assert.Equal(t, service.DefaultModelVersion, model["version"])
			assert.Equal(t, float64(service.FeatureCount), model["features"])
			assert.Equal(t, false, model["loaded"])
		})
	}
}

func TestSchema(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(t, http.MethodGet, "/api/v1/schema", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		FieldCount int            `json:"field_count"`
		Groups     []fields.Group `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, fields.DefaultSchema().FieldCount(), body.FieldCount)
	require.Len(t, body.Groups, 4)
	assert.Equal(t, "Age", body.Groups[0].Fields[0].Name)
}

func TestCreatePrediction_Baseline(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(t, http.MethodPost, "/api/v1/predictions", baselineSubmission(nil))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var got service.Prediction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))

	assert.InDelta(t, 0.1, got.Result.SLEProbability, 1e-9)
	assert.Equal(t, 0, got.Result.SLEDiagnosis)
	assert.Equal(t, domain.RiskLow, got.SLETier)
	assert.Equal(t, domain.UrgencyLow, got.Treatment.Urgency)
	assert.Equal(t, "Jane Doe", got.Result.PatientName)
	assert.Equal(t, "Follow up in 3 months", got.Result.DoctorNotes)
	assert.Equal(t, "/api/v1/predictions/"+got.Result.ID, w.Header().Get("Location"))

	stored, err := env.store.Get(context.Background(), got.Result.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Result.Timestamp, stored.Timestamp)
}

func TestCreatePrediction_Errors(t *testing.T) {
	tests := []struct {
		name       string
		model      service.Model
		body       any
		wantStatus int
		wantCode   string
	}{
		{
			name:       "Malformed body",
			body:       "not an object",
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.ErrCodeInvalidInput,
		},
		{
			name:       "Missing fields",
			body:       baselineSubmission(map[string]any{"Age": nil, "ANA_Positive": nil}),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   domain.ErrCodeValidation,
		},
		{
			name:       "Invalid category",
			body:       baselineSubmission(map[string]any{"Sex": "2"}),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   domain.ErrCodeValidation,
		},
		{
			name:       "Model unavailable",
			model:      brokenModel{},
			body:       baselineSubmission(nil),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   domain.ErrCodeModelUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.model, nil)

			w := env.do(t, http.MethodPost, "/api/v1/predictions", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			var apiErr domain.APIError
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.NotEmpty(t, apiErr.RequestID)

			count, err := env.store.Count(context.Background())
			require.NoError(t, err)
			assert.Zero(t, count, "failed runs must not be stored")
		})
	}
}

func TestCreatePrediction_ValidationDetails(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(t, http.MethodPost, "/api/v1/predictions",
		baselineSubmission(map[string]any{"Age": nil, "ANA_Positive": nil}))

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body struct {
		Details []fields.Issue `json:"details"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	var missing []string
	for _, is := range body.Details {
		assert.Equal(t, fields.MissingField, is.Kind)
		missing = append(missing, is.Field)
	}
	assert.ElementsMatch(t, []string{"Age", "ANA_Positive"}, missing)
}

func TestGetPrediction(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	created := env.createPrediction(t)

	w := env.do(t, http.MethodGet, "/api/v1/predictions/"+created.Result.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got service.Prediction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, created.Result.ID, got.Result.ID)

	w = env.do(t, http.MethodGet, "/api/v1/predictions/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), domain.ErrCodeNotFound)
}

func TestListPredictions(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	for i := 0; i < 3; i++ {
		env.createPrediction(t)
	}

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantLen    int
		wantLimit  int
	}{
		{"Defaults", "", http.StatusOK, 3, service.DefaultHistoryLimit},
		{"Page", "?limit=2&offset=1", http.StatusOK, 2, 2},
		{"Clamped", "?limit=1000", http.StatusOK, 3, service.MaxHistoryLimit},
		{"Bad limit", "?limit=abc", http.StatusBadRequest, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/v1/predictions"+tt.query, nil)
			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var body ListResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Len(t, body.Predictions, tt.wantLen)
			assert.Equal(t, int64(3), body.Total)
			assert.Equal(t, tt.wantLimit, body.Limit)
		})
	}
}

func TestExportCSV(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	created := env.createPrediction(t)

	w := env.do(t, http.MethodGet, "/api/v1/predictions/"+created.Result.ID+"/csv", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Regexp(t, `^attachment; filename="sle_prediction_\d+\.csv"$`, w.Header().Get("Content-Disposition"))

	lines := strings.Split(w.Body.String(), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(service.CSVHeader, ","), lines[0])

	summary, err := service.ParseCSV(w.Body.String())
	require.NoError(t, err)
	assert.InDelta(t, created.Result.SLEProbability, summary.SLEProbability, 0.00005)
}

func TestReport(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	created := env.createPrediction(t)

	w := env.do(t, http.MethodGet, "/api/v1/predictions/"+created.Result.ID+"/report", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var doc service.ReportDocument
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, service.ReportTitle, doc.Title)
	require.NotEmpty(t, doc.Sections)
	assert.Equal(t, service.SectionDisclaimer, doc.Sections[len(doc.Sections)-1].ID)

	w = env.do(t, http.MethodGet, "/api/v1/predictions/"+created.Result.ID+"/report.pdf", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")))
}

func TestRateLimitOnPredictions(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	manager, err := config.NewManager("")
	require.NoError(t, err)
	manager.GetConfig().RateLimit = domain.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 1}

	limited := NewServer(manager, Dependencies{Predictor: env.server.predictor, Logger: env.server.logger})
	env.server = limited

	first := env.do(t, http.MethodPost, "/api/v1/predictions", baselineSubmission(nil))
	second := env.do(t, http.MethodPost, "/api/v1/predictions", baselineSubmission(nil))
	read := env.do(t, http.MethodGet, "/api/v1/predictions", nil)

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, http.StatusOK, read.Code, "reads are not rate limited")
}

func TestRateLimitSharedWithStream(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	manager, err := config.NewManager("")
	require.NoError(t, err)
	manager.GetConfig().RateLimit = domain.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 1}
	env.server = NewServer(manager, Dependencies{Predictor: env.server.predictor, Logger: env.server.logger})

	created := env.do(t, http.MethodPost, "/api/v1/predictions", baselineSubmission(nil))
	stream := env.do(t, http.MethodGet, "/api/v1/predictions/stream", nil)

	assert.Equal(t, http.StatusCreated, created.Code)
	assert.Equal(t, http.StatusTooManyRequests, stream.Code, "the stream draws from the same budget as POST")
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/predictions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
