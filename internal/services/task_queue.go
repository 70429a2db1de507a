package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/authgrid/authgrid/internal/config"
	"github.com/authgrid/authgrid/internal/models"
	"github.com/authgrid/authgrid/pkg/logger"
)

const TaskTypeEvent = "event:record"

// EventQueue decouples event recording from the request path. Security
// events are written off the hot path of the token endpoint.
type EventQueue interface {
	Enqueue(entry *models.SystemLog) error
	IsAsync() bool
	Close() error
}

var (
	globalEventQueue EventQueue
	eventQueueOnce   sync.Once
)

// InitEventQueue picks the async Redis queue when available and falls back
// to in-process handling otherwise.
func InitEventQueue(cfg *config.Config) EventQueue {
	eventQueueOnce.Do(func() {
		if cfg.Redis.Enabled {
			queue, err := NewAsyncEventQueue(&cfg.Redis)
			if err != nil {
				logger.Infof("[EventQueue] Redis unavailable, falling back to sync mode: %v", err)
				globalEventQueue = NewSyncEventQueue()
			} else {
				logger.Infof("[EventQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
				globalEventQueue = queue
			}
		} else {
			logger.Infof("[EventQueue] Sync queue initialized (Redis disabled)")
			globalEventQueue = NewSyncEventQueue()
		}
	})
	return globalEventQueue
}

func GetEventQueue() EventQueue {
	return globalEventQueue
}

// AsyncEventQueue pushes events through asynq.
type AsyncEventQueue struct {
	client *asynq.Client
}

func NewAsyncEventQueue(cfg *config.RedisConfig) (*AsyncEventQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	// Verify the connection up front so init can fall back cleanly.
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncEventQueue{client: client}, nil
}

func (q *AsyncEventQueue) Enqueue(entry *models.SystemLog) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	t := asynq.NewTask(TaskTypeEvent, payload)
	_, err = q.client.Enqueue(t,
		asynq.Queue("events"),
		asynq.MaxRetry(3),
	)
	return err
}

func (q *AsyncEventQueue) IsAsync() bool { return true }

func (q *AsyncEventQueue) Close() error { return q.client.Close() }

// SyncEventQueue handles events in process when Redis is not available.
type SyncEventQueue struct {
	processor func(context.Context, *models.SystemLog) error
}

func NewSyncEventQueue() *SyncEventQueue {
	return &SyncEventQueue{}
}

func (q *SyncEventQueue) SetProcessor(processor func(context.Context, *models.SystemLog) error) {
	q.processor = processor
}

func (q *SyncEventQueue) Enqueue(entry *models.SystemLog) error {
	if q.processor == nil {
		logger.Infof("[SyncEventQueue] Warning: no processor set, event will be dropped")
		return nil
	}

	// Write off the request goroutine so the token endpoint is not held up.
	go func() {
		if err := q.processor(context.Background(), entry); err != nil {
			logger.Infof("[SyncEventQueue] Event processing failed: %v", err)
		}
	}()

	return nil
}

func (q *SyncEventQueue) IsAsync() bool { return false }

func (q *SyncEventQueue) Close() error { return nil }
