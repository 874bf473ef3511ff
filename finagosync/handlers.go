package finagosync

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/finsight_backend/config"
	"bitbucket.org/mmdatafocus/finsight_backend/models"
)

// TriggerSyncHandler queues a connector pull and hands it to the worker. An
// empty body syncs every module. When publishing fails (local dev without
// Pub/Sub) the run is processed in-process instead.
func TriggerSyncHandler(c *gin.Context) {
	db := config.GetDB()
	logger := config.GetLogger()

	req := TriggerSyncRequest{Modules: DefaultModules()}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	if req.Modules.IsEmpty() {
		req.Modules = DefaultModules()
	}

	run := models.SyncRun{
		Provider:    models.SyncProviderFinago,
		Status:      models.SyncRunStatusQueued,
		TriggeredBy: models.SyncTriggeredManual,
		Modules:     models.NewStructuredBlob(EncodeModules(req.Modules)),
	}
	if err := models.CreateSyncRun(c.Request.Context(), db, &run); err != nil {
		config.LogError(logger, "handlers.go", "TriggerSyncHandler", "CreateSyncRun", req, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create sync run"})
		return
	}

	if err := PublishSyncRun(c.Request.Context(), logger, run.ID); err != nil {
		config.LogError(logger, "handlers.go", "TriggerSyncHandler", "PublishSyncRun", run.ID, err)
		go func(runId uint) {
			if err := ProcessSyncRun(context.Background(), config.GetDB(), logger, runId); err != nil {
				config.LogError(logger, "handlers.go", "TriggerSyncHandler", "ProcessSyncRun", runId, err)
			}
		}(run.ID)
	}

	c.JSON(http.StatusAccepted, gin.H{"run_id": run.ID, "status": run.Status})
}

func SyncHistoryHandler(c *gin.Context) {
	db := config.GetDB()
	logger := config.GetLogger()

	limit := 20
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	runs, err := models.GetSyncRuns(c.Request.Context(), db, limit)
	if err != nil {
		config.LogError(logger, "handlers.go", "SyncHistoryHandler", "GetSyncRuns", limit, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load sync history"})
		return
	}

	resp := SyncHistoryResponse{Items: make([]SyncRunResponse, 0, len(runs))}
	for _, run := range runs {
		resp.Items = append(resp.Items, toRunResponse(run))
	}
	c.JSON(http.StatusOK, resp)
}

func SyncRunDetailHandler(c *gin.Context) {
	db := config.GetDB()
	logger := config.GetLogger()

	runId, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	var run models.SyncRun
	if err := db.WithContext(c.Request.Context()).First(&run, uint(runId)).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "sync run not found"})
		return
	}

	syncErrs, err := models.GetSyncErrors(c.Request.Context(), db, run.ID)
	if err != nil {
		config.LogError(logger, "handlers.go", "SyncRunDetailHandler", "GetSyncErrors", run.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load sync errors"})
		return
	}

	detail := SyncRunDetailResponse{
		SyncRunResponse: toRunResponse(run),
		Errors:          make([]SyncErrorResponse, 0, len(syncErrs)),
	}
	for _, e := range syncErrs {
		detail.Errors = append(detail.Errors, SyncErrorResponse{
			ID:         e.ID,
			EntityType: e.EntityType,
			ExternalId: e.ExternalId,
			Message:    e.Message,
			Retryable:  e.Retryable,
		})
	}
	c.JSON(http.StatusOK, detail)
}

// RetrySyncRunHandler queues a fresh run with the module selection of an
// earlier one. The cursors have moved on, so the retry pulls the current
// window rather than replaying the original one.
func RetrySyncRunHandler(c *gin.Context) {
	db := config.GetDB()
	logger := config.GetLogger()

	runId, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	var original models.SyncRun
	if err := db.WithContext(c.Request.Context()).First(&original, uint(runId)).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "sync run not found"})
		return
	}

	retry := models.SyncRun{
		Provider:    models.SyncProviderFinago,
		Status:      models.SyncRunStatusQueued,
		TriggeredBy: models.SyncTriggeredManual,
		Modules:     original.Modules,
	}
	if err := models.CreateSyncRun(c.Request.Context(), db, &retry); err != nil {
		config.LogError(logger, "handlers.go", "RetrySyncRunHandler", "CreateSyncRun", runId, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create sync run"})
		return
	}

	if err := PublishSyncRun(c.Request.Context(), logger, retry.ID); err != nil {
		config.LogError(logger, "handlers.go", "RetrySyncRunHandler", "PublishSyncRun", retry.ID, err)
		go func(id uint) {
			if err := ProcessSyncRun(context.Background(), config.GetDB(), logger, id); err != nil {
				config.LogError(logger, "handlers.go", "RetrySyncRunHandler", "ProcessSyncRun", id, err)
			}
		}(retry.ID)
	}

	c.JSON(http.StatusAccepted, gin.H{"run_id": retry.ID, "status": retry.Status})
}

func toRunResponse(run models.SyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:            run.ID,
		Status:        run.Status,
		StartedAt:     fmtTime(run.StartedAt),
		FinishedAt:    fmtTime(run.FinishedAt),
		DurationMs:    run.DurationMs,
		RecordsSynced: run.RecordsSynced,
		ErrorCount:    run.ErrorCount,
		TriggeredBy:   run.TriggeredBy,
	}
}

func fmtTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
