package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sle-predictor-server/internal/domain"
	"github.com/sle-predictor-server/internal/middleware"
	"github.com/sle-predictor-server/internal/service"
	"github.com/sle-predictor-server/pkg/fields"
)

// healthTimeout bounds the database ping made by /health.
const healthTimeout = 2 * time.Second

// ListResponse is the body of GET /api/v1/predictions.
type ListResponse struct {
	Predictions []*domain.PredictionResult `json:"predictions"`
	Total       int64                      `json:"total"`
	Limit       int                        `json:"limit"`
	Offset      int                        `json:"offset"`
}

// handleHealth reports liveness, model state and database readiness.
func (s *Server) handleHealth(c *gin.Context) {
	scorer := s.predictor.Scorer()
	status := http.StatusOK
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"model": gin.H{
			"version":  scorer.Version(),
			"features": service.FeatureCount,
			"loaded":   scorer.IsLoaded(),
		},
	}

	if s.database != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		if err := s.database.Health(ctx); err != nil {
			s.logger.WithError(err).Warn("Database health check failed")
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = "unreachable"
		} else {
			body["database"] = "ok"
		}
	}

	c.JSON(status, body)
}

// handleSchema returns the field groups a submission is validated against.
func (s *Server) handleSchema(c *gin.Context) {
	schema := s.predictor.Schema()
	c.JSON(http.StatusOK, gin.H{
		"field_count": schema.FieldCount(),
		"groups":      schema.Groups(),
	})
}

// handleCreatePrediction runs one submission through the pipeline.
func (s *Server) handleCreatePrediction(c *gin.Context) {
	sub, err := fields.ParseSubmission(c.Request.Body)
	if err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "malformed submission", err.Error())
		return
	}

	prediction, err := s.predictor.Predict(c.Request.Context(), sub, nil)
	if err != nil {
		s.abortWithPredictError(c, err)
		return
	}

	c.Header("Location", "/api/v1/predictions/"+prediction.Result.ID)
	c.JSON(http.StatusCreated, prediction)
}

// handleListPredictions returns a page of the prediction history.
func (s *Server) handleListPredictions(c *gin.Context) {
	limit, err := queryInt(c, "limit", service.DefaultHistoryLimit)
	if err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid limit", err.Error())
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid offset", err.Error())
		return
	}
	switch {
	case limit <= 0:
		limit = service.DefaultHistoryLimit
	case limit > service.MaxHistoryLimit:
		limit = service.MaxHistoryLimit
	}
	offset = max(offset, 0)

	results, total, err := s.predictor.ListPredictions(c.Request.Context(), limit, offset)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list predictions")
		middleware.AbortWithError(c, http.StatusInternalServerError, domain.ErrCodeInternalServer, "failed to list predictions", nil)
		return
	}

	c.JSON(http.StatusOK, ListResponse{
		Predictions: results,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
	})
}

// handleGetPrediction returns one prediction with its tiers and treatment plan.
func (s *Server) handleGetPrediction(c *gin.Context) {
	prediction, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, prediction)
}

// handleExportCSV returns the result as a single-row CSV attachment.
func (s *Server) handleExportCSV(c *gin.Context) {
	prediction, ok := s.lookup(c)
	if !ok {
		return
	}

	data, err := service.ToCSV(prediction.Result)
	if err != nil {
		s.logger.WithError(err).WithField("prediction_id", prediction.Result.ID).Error("Failed to export CSV")
		middleware.AbortWithError(c, http.StatusInternalServerError, domain.ErrCodeInternalServer, "failed to export prediction", nil)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, csvFilename(prediction.Result)))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(data))
}

// handleReport returns the structured report document.
func (s *Server) handleReport(c *gin.Context) {
	prediction, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, service.ToReportDocument(prediction.Result))
}

// handleReportPDF renders the report document as a PDF attachment.
func (s *Server) handleReportPDF(c *gin.Context) {
	prediction, ok := s.lookup(c)
	if !ok {
		return
	}

	data, err := s.renderer.RenderBytes(service.ToReportDocument(prediction.Result))
	if err != nil {
		s.logger.WithError(err).WithField("prediction_id", prediction.Result.ID).Error("Failed to render PDF report")
		middleware.AbortWithError(c, http.StatusInternalServerError, domain.ErrCodeInternalServer, "failed to render report", nil)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="sle_report_%s.pdf"`, prediction.Result.ID))
	c.Data(http.StatusOK, "application/pdf", data)
}

// lookup loads the prediction named by the :id parameter, writing the error
// response itself when that fails.
func (s *Server) lookup(c *gin.Context) (*service.Prediction, bool) {
	id := c.Param("id")
	prediction, err := s.predictor.GetPrediction(c.Request.Context(), id)
	if err == nil {
		return prediction, true
	}

	if errors.Is(err, domain.ErrNotFound) {
		middleware.AbortWithError(c, http.StatusNotFound, domain.ErrCodeNotFound, "prediction not found", gin.H{"id": id})
		return nil, false
	}
	s.logger.WithError(err).WithField("prediction_id", id).Error("Failed to load prediction")
	middleware.AbortWithError(c, http.StatusInternalServerError, domain.ErrCodeInternalServer, "failed to load prediction", nil)
	return nil, false
}

// abortWithPredictError maps pipeline errors onto HTTP responses.
func (s *Server) abortWithPredictError(c *gin.Context, err error) {
	status, apiErr := s.predictError(err, middleware.GetCorrelationID(c))
	c.AbortWithStatusJSON(status, apiErr)
}

// predictError classifies a Predict failure into a status code and error envelope.
func (s *Server) predictError(err error, requestID string) (int, *domain.APIError) {
	var verrs *fields.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusUnprocessableEntity, domain.NewAPIError(domain.ErrCodeValidation,
			"submission failed validation", verrs.Issues, requestID)
	case errors.Is(err, domain.ErrModelUnavailable):
		return http.StatusServiceUnavailable, domain.NewAPIError(domain.ErrCodeModelUnavailable,
			"prediction model is unavailable, try again later", nil, requestID)
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, domain.NewAPIError(domain.ErrCodeInternalServer,
			"prediction timed out", nil, requestID)
	case errors.Is(err, context.Canceled):
		// 499: client closed request
		return 499, domain.NewAPIError(domain.ErrCodeInternalServer, "request cancelled", nil, requestID)
	default:
		s.logger.WithError(err).WithField("correlation_id", requestID).Error("Prediction failed")
		return http.StatusInternalServerError, domain.NewAPIError(domain.ErrCodeInternalServer,
			"prediction failed", nil, requestID)
	}
}

// csvFilename names a CSV export after the result's timestamp in unix milliseconds.
func csvFilename(result *domain.PredictionResult) string {
	t := result.Time()
	if t.IsZero() {
		t = time.Now()
	}
	return fmt.Sprintf("sle_prediction_%d.csv", t.UnixMilli())
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}

// logFields returns the request-scoped logging fields.
func logFields(c *gin.Context) logrus.Fields {
	return logrus.Fields{
		"correlation_id": middleware.GetCorrelationID(c),
		"client_ip":      c.ClientIP(),
	}
}
