package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/tubewise/tubewise/internal/ingest"
	"github.com/tubewise/tubewise/internal/store"
	"github.com/tubewise/tubewise/internal/youtube"
)

// Scheduler periodically refreshes channels that carry a refresh cron spec,
// ingesting any uploads that appeared since the last refresh.
type Scheduler struct {
	Store    *store.Store
	Source   youtube.Source
	Pipeline *ingest.Pipeline
	Jobs     *JobTracker
	Tick     time.Duration
	Stop     chan struct{}
}

func (s *Scheduler) Start() {
	tick := s.Tick
	if tick <= 0 {
		tick = time.Hour
	}
	ticker := time.NewTicker(tick)
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
	channels, err := s.Store.ListScheduledChannels(ctx)
	if err != nil {
		log.Printf("[SCHED] list channels: %v", err)
		return
	}
	for _, ch := range channels {
		if !isDue(ch.RefreshCron, ch.UpdatedAt) {
			continue
		}
		ok, release := s.Jobs.TryLock(ctx, ch.ID)
		if !ok {
			continue
		}
		go s.refresh(ctx, ch, release)
	}
}

func (s *Scheduler) refresh(ctx context.Context, ch store.ChannelRecord, release func()) {
	defer release()
	videos, err := s.Source.ChannelVideos(ctx, ch.ChannelID, 0)
	if err != nil {
		log.Printf("[SCHED] channel %s: list videos: %v", ch.ID, err)
		return
	}
	ids := make([]string, 0, len(videos))
	for _, v := range videos {
		ids = append(ids, v.VideoID)
	}
	if len(ids) == 0 {
		return
	}
	report := s.Pipeline.IngestVideos(ctx, ch.ID, ids)
	if failed := report.Failed(); len(failed) > 0 {
		log.Printf("[SCHED] channel %s: refresh finished with %d failures", ch.ID, len(failed))
	}
	if err := s.Store.MarkChannelRefreshed(ctx, ch.ID); err != nil {
		log.Printf("[SCHED] channel %s: mark refreshed: %v", ch.ID, err)
	}
}

// isDue reports whether a channel with cronSpec should refresh now given its
// last refresh time. Supports @daily, @hourly and standard cron expressions;
// an unparseable spec falls back to @daily.
func isDue(cronSpec string, last time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		return now.Sub(last) >= 24*time.Hour
	case "@hourly":
		return now.Sub(last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			return now.Sub(last) >= 24*time.Hour
		}
		next := expr.Next(last)
		return !next.IsZero() && !next.After(now)
	}
}
