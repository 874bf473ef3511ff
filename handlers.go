package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/finsight_backend/config"
	"bitbucket.org/mmdatafocus/finsight_backend/models"
	"bitbucket.org/mmdatafocus/finsight_backend/models/reports"
	"bitbucket.org/mmdatafocus/finsight_backend/utils"
	"bitbucket.org/mmdatafocus/finsight_backend/workflow"
)

func statusForModelErr(err error) int {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDuplicateSubjectInBatch),
		errors.Is(err, models.ErrInvalidModelType),
		errors.Is(err, models.ErrRunNotPending),
		errors.Is(err, models.ErrRunNotDeployable):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abortWithModelErr(c *gin.Context, err error) {
	status := statusForModelErr(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg})
}

// Latest dashboard snapshot, cached in Redis per category. The recompute job
// drops dashboard:* after every run, so a hit is never staler than one run.
func dashboardMetricsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		category := c.Query("category")
		cacheKey := "dashboard:metrics:" + category

		if cached, ok, err := config.GetRedisValue(cacheKey); err == nil && ok {
			c.Data(http.StatusOK, "application/json", []byte(cached))
			return
		}

		var filter *models.MetricCategory
		if category != "" {
			mc := models.MetricCategory(category)
			filter = &mc
		}
		metrics, err := models.GetLatestDashboardMetrics(c.Request.Context(), config.GetDB(), filter)
		if err != nil {
			config.LogError(logger, "handlers.go", "dashboardMetricsHandler", "GetLatestDashboardMetrics", category, err)
			abortWithModelErr(c, err)
			return
		}

		body, err := json.Marshal(gin.H{"items": metrics})
		if err != nil {
			abortWithModelErr(c, err)
			return
		}
		if err := config.SetRedisValue(cacheKey, string(body), config.DashboardCacheTTL()); err != nil {
			logger.WithFields(logrus.Fields{"key": cacheKey}).Warn("dashboard cache write failed: " + err.Error())
		}
		c.Data(http.StatusOK, "application/json", body)
	}
}

func metricHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		days := 90
		if v := c.Query("days"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 3650 {
				days = n
			}
		}
		since := time.Now().UTC().AddDate(0, 0, -days)
		history, err := models.GetDashboardMetricHistory(c.Request.Context(), config.GetDB(), c.Param("name"), since)
		if err != nil {
			abortWithModelErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": history})
	}
}

func timeseriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Query("name")
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		now := time.Now().UTC()
		from, to := now.AddDate(-1, 0, 0), now
		if v := c.Query("from"); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "from must be YYYY-MM-DD"})
				return
			}
			from = t
		}
		if v := c.Query("to"); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "to must be YYYY-MM-DD"})
				return
			}
			to = t
		}
		points, err := models.GetTimeseries(c.Request.Context(), config.GetDB(), name, from, to)
		if err != nil {
			abortWithModelErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": points})
	}
}

func customerMetricsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var status *string
		if v := c.Query("payment_status"); v != "" {
			status = &v
		}
		customers, err := models.GetCustomerMetrics(c.Request.Context(), config.GetDB(), status)
		if err != nil {
			abortWithModelErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": customers})
	}
}

func dashboardExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		filename := fmt.Sprintf("dashboard-%s.xlsx", time.Now().UTC().Format("2006-01-02"))
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		if err := reports.ExportDashboardWorkbook(c.Request.Context(), config.GetDB(), c.Writer); err != nil {
			config.LogError(logger, "handlers.go", "dashboardExportHandler", "ExportDashboardWorkbook", nil, err)
			// Headers may be gone already; the truncated body signals failure.
			c.Status(http.StatusInternalServerError)
		}
	}
}

// Manual recompute for the window ending now. The scheduled job uses the
// same path, so a manual run and a scheduled run can never disagree.
func recomputeMetricsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		end := time.Now().UTC()
		start := end.AddDate(0, 0, -config.MetricsPeriodDays())
		if err := workflow.RecomputeMetrics(c.Request.Context(), config.GetDB(), logger, start, end); err != nil {
			abortWithModelErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"period_start": start.Format("2006-01-02"),
			"period_end":   end.Format("2006-01-02"),
		})
	}
}

func alertsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter models.AlertFilter
		if v := c.Query("state"); v != "" {
			s := models.AlertState(v)
			filter.State = &s
		}
		if v := c.Query("type"); v != "" {
			t := models.AlertType(v)
			filter.Type = &t
		}
		if v := c.Query("severity"); v != "" {
			s := models.AlertSeverity(v)
			filter.Severity = &s
		}
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
				filter.Limit = n
			}
		}
		alerts, err := models.GetAlerts(c.Request.Context(), config.GetDB(), filter)
		if err != nil {
			abortWithModelErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": alerts})
	}
}

func alertSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		counts, err := models.CountOpenAlertsBySeverity(c.Request.Context(), config.GetDB())
		if err != nil {
			abortWithModelErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"open_by_severity": counts})
	}
}

func resolveAlertHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		alertId, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
			return
		}
		alert, err := models.ResolveAlert(c.Request.Context(), config.GetDB(), uint(alertId))
		if err != nil {
			abortWithModelErr(c, err)
			return
		}
		c.JSON(http.StatusOK, alert)
	}
}

type predictionBatchRequest struct {
	Predictions []models.NewPrediction `json:"predictions" binding:"required,min=1,dive"`
}

func predictionBatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		var req predictionBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "invalid prediction batch",
				"fields": utils.ProcessValidationErrors(err),
			})
			return
		}
		rows, err := workflow.IngestPredictionBatch(c.Request.Context(), config.GetDB(), logger, req.Predictions)
		if err != nil {
			abortWithModelErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"activated": len(rows), "items": rows})
	}
}

type reconcilePredictionRequest struct {
	PredictionType models.PredictionType `json:"prediction_type" binding:"required"`
	EntityType     string                `json:"entity_type" binding:"required"`
	EntityId       string                `json:"entity_id" binding:"required"`
	ActualValue    *decimal.Decimal      `json:"actual_value" binding:"required"`
	ActualDate     time.Time             `json:"actual_date" binding:"required"`
}

// reconcilePredictionHandler lets the training collaborator post an observed
// outcome by subject key; the row whose target_date matches the outcome date
// gets the actual attached. Replays are no-ops (first write wins).
func reconcilePredictionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reconcilePredictionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "invalid reconcile request",
				"fields": utils.ProcessValidationErrors(err),
			})
			return
		}
		pred, err := models.ReconcilePredictionByKey(c.Request.Context(), config.GetDB(),
			req.PredictionType, req.EntityType, req.EntityId, req.ActualDate, *req.ActualValue)
		if err != nil {
			abortWithModelErr(c, err)
			return
		}
		c.JSON(http.StatusOK, pred)
	}
}

func predictionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter models.PredictionFilter
		if v := c.Query("type"); v != "" {
			t := models.PredictionType(v)
			filter.Type = &t
		}
		if v := c.Query("entity_type"); v != "" {
			filter.EntityType = &v
		}
		if v := c.Query("entity_id"); v != "" {
			filter.EntityId = &v
		}
		filter.ActiveOnly = c.Query("active") == "true"
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				filter.Limit = n
			}
		}
		preds, err := models.GetPredictions(c.Request.Context(), config.GetDB(), filter)
		if err != nil {
			abortWithModelErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": preds})
	}
}

func activePredictionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter *models.PredictionType
		if v := c.Query("type"); v != "" {
			t := models.PredictionType(v)
			filter = &t
		}
		items, err := models.GetActivePredictionView(c.Request.Context(), config.GetDB(), filter)
		if err != nil {
			abortWithModelErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

func modelAccuracyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := models.GetModelAccuracyView(c.Request.Context(), config.GetDB())
		if err != nil {
			abortWithModelErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

type pubSubEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// Push-subscription twin of the batch endpoint. Malformed envelopes are
// acked and dropped so a poisoned message cannot retry forever; a real
// processing failure returns 500 so Pub/Sub redelivers.
func predictionPubSubHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "handlers.go", "predictionPubSubHandler", "io.ReadAll", nil, err)
			c.Status(http.StatusNoContent)
			return
		}
		var envelope pubSubEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			config.LogError(logger, "handlers.go", "predictionPubSubHandler", "unmarshalEnvelope", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}
		var req predictionBatchRequest
		if err := json.Unmarshal(envelope.Message.Data, &req); err != nil || len(req.Predictions) == 0 {
			config.LogError(logger, "handlers.go", "predictionPubSubHandler", "unmarshalBatch", envelope.Message.ID, err)
			c.Status(http.StatusNoContent)
			return
		}

		if _, err := workflow.IngestPredictionBatch(c.Request.Context(), config.GetDB(), logger, req.Predictions); err != nil {
			if errors.Is(err, models.ErrDuplicateSubjectInBatch) {
				// Structurally invalid; retrying cannot fix it.
				c.Status(http.StatusNoContent)
				return
			}
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type startTrainingRequest struct {
	ModelName  string     `json:"model_name" binding:"required"`
	RangeStart *time.Time `json:"range_start"`
	RangeEnd   *time.Time `json:"range_end"`
}

func startTrainingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		var req startTrainingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "model_name is required"})
			return
		}
		run, err := workflow.StartTraining(c.Request.Context(), config.GetDB(), logger, req.ModelName, req.RangeStart, req.RangeEnd)
		if err != nil {
			abortWithModelErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, run)
	}
}

func completeTrainingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		runId, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}
		var input workflow.TrainingSuccessInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid training result"})
			return
		}
		run, err := workflow.FinishTrainingSuccess(c.Request.Context(), config.GetDB(), logger, uint(runId), input)
		if err != nil {
			abortWithModelErr(c, err)
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

type failTrainingRequest struct {
	Message         string  `json:"message" binding:"required"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func failTrainingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		runId, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}
		var req failTrainingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
			return
		}
		run, err := workflow.FinishTrainingFailure(c.Request.Context(), config.GetDB(), logger, uint(runId), req.Message, req.DurationSeconds)
		if err != nil {
			abortWithModelErr(c, err)
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

func deployModelHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		runId, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}
		run, err := workflow.DeployModel(c.Request.Context(), config.GetDB(), logger, uint(runId))
		if err != nil {
			abortWithModelErr(c, err)
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

func trainingRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		runId, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}
		run, err := models.GetTrainingRun(c.Request.Context(), config.GetDB(), uint(runId))
		if err != nil {
			abortWithModelErr(c, err)
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

func trainingHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 50
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}
		runs, err := models.GetTrainingHistory(c.Request.Context(), config.GetDB(), c.Query("model"), limit)
		if err != nil {
			abortWithModelErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": runs})
	}
}

func currentDeploymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := models.GetCurrentDeployment(c.Request.Context(), config.GetDB(), c.Param("name"))
		if err != nil {
			abortWithModelErr(c, err)
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

func deployedArtifactHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		name := c.Param("name")
		artifact, run, err := workflow.LoadDeployedArtifact(c.Request.Context(), config.GetDB(), name)
		if err != nil {
			config.LogError(logger, "handlers.go", "deployedArtifactHandler", "LoadDeployedArtifact", name, err)
			abortWithModelErr(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", run.ArtifactKey))
		c.Data(http.StatusOK, "application/octet-stream", artifact)
	}
}

func modelPerformanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 50
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}
		records, err := models.GetModelPerformanceHistory(c.Request.Context(), config.GetDB(), c.Param("name"), limit)
		if err != nil {
			abortWithModelErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": records})
	}
}

func latestPerformanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := models.GetLatestModelPerformance(c.Request.Context(), config.GetDB())
		if err != nil {
			abortWithModelErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": records})
	}
}
