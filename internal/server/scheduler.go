package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/researcher/internal/queue/streams"
	"github.com/mohammad-safakhou/researcher/internal/store"
	"github.com/mohammad-safakhou/researcher/internal/worker"
)

// Scheduler periodically finds due refresh schedules and enqueues them for
// the worker pool. A redis lock per schedule keeps multiple replicas from
// enqueueing the same window twice; the lock expires on its own, the worker
// side idempotency claim covers the rest.
type Scheduler struct {
	Store     *store.Store
	Rdb       *redis.Client
	Publisher *streams.Publisher
	Interval  time.Duration
	LockTTL   time.Duration
	Logger    *log.Logger
	Stop      chan struct{}
}

func (s *Scheduler) Start() {
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	schedules, err := s.Store.ListAllSchedules(ctx)
	if err != nil {
		s.Logger.Printf("warn: listing schedules failed: %v", err)
		return
	}
	for _, sched := range schedules {
		if !isDue(sched.Cron, sched.LastRunAt) {
			continue
		}
		lockTTL := s.LockTTL
		if lockTTL <= 0 {
			lockTTL = 2 * time.Minute
		}
		ok, err := s.Rdb.SetNX(ctx, "sched:lock:"+sched.ID, "1", lockTTL).Result()
		if err != nil {
			s.Logger.Printf("warn: schedule lock for %s failed: %v", sched.ID, err)
			continue
		}
		if !ok {
			continue
		}

		job := worker.RefreshJob{
			ScheduleID:     sched.ID,
			UserID:         sched.UserID,
			ConversationID: sched.ConversationID,
			Query:          sched.Query,
		}
		if _, err := s.Publisher.PublishRaw(ctx, worker.StreamRefreshEnqueued, worker.StreamRefreshEnqueued, "v1", job); err != nil {
			s.Logger.Printf("warn: enqueue refresh for schedule %s failed: %v", sched.ID, err)
			continue
		}
		s.Logger.Printf("enqueued refresh for schedule %s (conversation %s)", sched.ID, sched.ConversationID)
	}
}

// isDue determines if a schedule with cronSpec should run now based on its
// last run time. Supports "@daily", "@hourly", and standard 5-field cron
// expressions; an unparseable spec behaves like @daily.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
