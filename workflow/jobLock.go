package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/finsight_backend/config"
)

// AcquireJobLease takes a best-effort redis lease so only one instance runs a
// periodic job at a time. A nil locker (redis down) degrades to running
// without the lease; the advisory DB lock below still protects the critical
// sections that need hard serialization.
func AcquireJobLease(ctx context.Context, jobName string, ttl time.Duration) (*redislock.Lock, error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil, nil
	}
	lock, err := locker.Obtain(ctx, "job:"+jobName, ttl, nil)
	if err == redislock.ErrNotObtained {
		return nil, err
	}
	if err != nil {
		return nil, nil
	}
	return lock, nil
}

func ReleaseJobLease(ctx context.Context, lock *redislock.Lock) {
	if lock != nil {
		_ = lock.Release(ctx)
	}
}

// AcquireActivationLock serializes prediction batch activation across
// instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped. Call this on a pinned connection
// (gorm Connection or an open transaction) that also runs the activation
// writes and the matching ReleaseActivationLock; on a pooled handle each
// statement may land on a different session.
func AcquireActivationLock(tx *gorm.DB, predictionType string) error {
	lockName := fmt.Sprintf("prediction_activation:%s", predictionType)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire activation lock for prediction_type=%s", predictionType)
	}
	return nil
}

func ReleaseActivationLock(tx *gorm.DB, predictionType string) {
	lockName := fmt.Sprintf("prediction_activation:%s", predictionType)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
