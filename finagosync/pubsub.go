package finagosync

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/finsight_backend/config"
)

func syncTopic() string {
	if v := strings.TrimSpace(os.Getenv("FINAGO_SYNC_TOPIC")); v != "" {
		return v
	}
	return "finago-sync"
}

func envBoolDefault(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// PublishSyncRun hands a queued run to the worker via Pub/Sub.
func PublishSyncRun(ctx context.Context, logger *logrus.Logger, runId uint) error {
	topic := syncTopic()
	if envBoolDefault("FINAGO_SYNC_CREATE_TOPIC", false) {
		client, err := config.GetClient(ctx)
		if err != nil {
			return err
		}
		if _, err := config.CreateTopicIfNotExists(client, topic); err != nil {
			return err
		}
	}
	msgId, err := config.PublishJSON(ctx, topic, SyncPubSubPayload{RunId: runId})
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"run_id": runId, "message_id": msgId}).
		Info("sync run published")
	return nil
}

// PubSubPushHandler receives the push delivery for a queued run. It always
// returns 204: a run that fails is marked failed in sync_runs, and redelivery
// would only hit the not-queued skip in ProcessSyncRun.
func PubSubPushHandler(c *gin.Context) {
	logger := config.GetLogger()

	var envelope PubSubPushEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		config.LogError(logger, "pubsub.go", "PubSubPushHandler", "bindEnvelope", nil, err)
		c.Status(http.StatusNoContent)
		return
	}

	var payload SyncPubSubPayload
	if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil || payload.RunId == 0 {
		config.LogError(logger, "pubsub.go", "PubSubPushHandler", "decodePayload", envelope.Message.ID, err)
		c.Status(http.StatusNoContent)
		return
	}

	if err := ProcessSyncRun(c.Request.Context(), config.GetDB(), logger, payload.RunId); err != nil {
		config.LogError(logger, "pubsub.go", "PubSubPushHandler", "ProcessSyncRun", payload.RunId, err)
	}
	c.Status(http.StatusNoContent)
}
