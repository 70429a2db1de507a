package services

import (
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/authgrid/authgrid/internal/models"
	"github.com/authgrid/authgrid/pkg/logger"
)

// tombstoneGrace keeps expired refresh tokens around after their absolute
// expiry so a very late replay is still recognized as reuse rather than
// an unknown token.
const tombstoneGrace = 24 * time.Hour

// CleanupService sweeps expired authorization codes, refresh tokens and
// old event-log rows on a cron schedule. A database lock keeps multiple
// replicas from sweeping at once.
type CleanupService struct {
	db        *gorm.DB
	tokens    *TokenService
	authorize *AuthorizeService
	events    *EventService
	scheduler *cron.Cron
	holder    string
}

func NewCleanupService(db *gorm.DB, tokens *TokenService, authorize *AuthorizeService, events *EventService) *CleanupService {
	hostname, _ := os.Hostname()
	return &CleanupService{
		db:        db,
		tokens:    tokens,
		authorize: authorize,
		events:    events,
		holder:    fmt.Sprintf("%s-%d", hostname, os.Getpid()),
	}
}

// Start schedules the sweeps: tokens and codes hourly, event retention
// daily.
func (s *CleanupService) Start() {
	s.scheduler = cron.New()

	if _, err := s.scheduler.AddFunc("@hourly", func() { s.RunTokenSweep() }); err != nil {
		logger.Errorf("[Cleanup] Failed to schedule token sweep: %v", err)
	}
	if _, err := s.scheduler.AddFunc("0 3 * * *", func() { s.RunEventSweep() }); err != nil {
		logger.Errorf("[Cleanup] Failed to schedule event sweep: %v", err)
	}

	s.scheduler.Start()
	logger.Infof("[Cleanup] Scheduler started")
}

func (s *CleanupService) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// RunTokenSweep deletes expired authorization codes and refresh tokens
// past their grace window.
func (s *CleanupService) RunTokenSweep() {
	if !s.tryAcquireLock("cleanup", "token_sweep", 30*time.Minute) {
		return
	}
	defer s.releaseLock("cleanup", "token_sweep")

	codes, err := s.authorize.CleanupExpired(tombstoneGrace)
	if err != nil {
		logger.Errorf("[Cleanup] Authorization code sweep failed: %v", err)
	}

	tokens, err := s.tokens.CleanupExpired(tombstoneGrace)
	if err != nil {
		logger.Errorf("[Cleanup] Refresh token sweep failed: %v", err)
	}

	if codes > 0 || tokens > 0 {
		logger.Infof("[Cleanup] Swept %d authorization codes, %d refresh tokens", codes, tokens)
	}
}

// RunEventSweep applies the event-log retention policy.
func (s *CleanupService) RunEventSweep() {
	if !s.tryAcquireLock("cleanup", "event_sweep", 30*time.Minute) {
		return
	}
	defer s.releaseLock("cleanup", "event_sweep")

	retention := s.events.GetRetentionDays()
	deleted, err := s.events.CleanupOldEvents(retention)
	if err != nil {
		logger.Errorf("[Cleanup] Event sweep failed: %v", err)
		return
	}
	if deleted > 0 {
		logger.Infof("[Cleanup] Deleted %d events older than %d days", deleted, retention)
	}
}

// tryAcquireLock takes the named lock if it is free or its previous holder
// let it expire. Exactly one contender wins because the steal is a
// conditional update.
func (s *CleanupService) tryAcquireLock(name, key string, ttl time.Duration) bool {
	now := time.Now()
	lock := models.SchedulerLock{
		LockName:  name,
		LockKey:   key,
		LockedBy:  s.holder,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	if err := s.db.Create(&lock).Error; err == nil {
		return true
	}

	res := s.db.Model(&models.SchedulerLock{}).
		Where("lock_name = ? AND lock_key = ? AND expires_at < ?", name, key, now).
		Updates(map[string]interface{}{
			"locked_by":  s.holder,
			"locked_at":  now,
			"expires_at": now.Add(ttl),
		})
	if res.Error != nil {
		logger.Errorf("[Cleanup] Lock %s/%s error: %v", name, key, res.Error)
		return false
	}
	return res.RowsAffected > 0
}

func (s *CleanupService) releaseLock(name, key string) {
	s.db.Where("lock_name = ? AND lock_key = ? AND locked_by = ?", name, key, s.holder).
		Delete(&models.SchedulerLock{})
}
