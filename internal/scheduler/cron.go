package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"newsbrief/config"
	"newsbrief/internal/service"
)

// FeedRefresher is the feed-refresh trigger target.
type FeedRefresher interface {
	RefreshAll(ctx context.Context) (int, []service.RefreshResult)
}

// ArticleProcessor is the article-processing trigger target.
type ArticleProcessor interface {
	ProcessPending(ctx context.Context) error
}

// Scheduler owns the two periodic triggers. They are independent: a slow
// processing pass and a concurrent refresh may interleave, which is safe
// because every pipeline write is a keyed upsert.
type Scheduler struct {
	cron           *cron.Cron
	feeds          FeedRefresher
	processor      ArticleProcessor
	config         config.CronConfig
	fetchEntryID   cron.EntryID
	processEntryID cron.EntryID
	logger         *slog.Logger
}

func NewScheduler(feeds FeedRefresher, processor ArticleProcessor, cfg config.CronConfig) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		feeds:     feeds,
		processor: processor,
		config:    cfg,
		logger:    slog.With("component", "scheduler"),
	}
}

// Start registers both triggers and runs one refresh-then-process cycle
// immediately, so a cold start is not idle until the first tick.
func (s *Scheduler) Start() {
	s.fetchEntryID, _ = s.cron.AddFunc(s.config.FetchInterval, s.refreshTick)
	s.processEntryID, _ = s.cron.AddFunc(s.config.ProcessInterval, s.processTick)

	go s.initialCycle()

	s.cron.Start()
	s.logger.Info("scheduler started",
		"fetch", s.config.FetchInterval, "process", s.config.ProcessInterval)
}

func (s *Scheduler) initialCycle() {
	s.refreshOnce()
	s.processTick()
}

func (s *Scheduler) refreshTick() {
	if added := s.refreshOnce(); added > 0 {
		// new articles: don't wait for the processing trigger's next tick
		s.processTick()
	}
}

func (s *Scheduler) refreshOnce() int {
	s.logger.Info("refreshing feeds")
	added, results := s.feeds.RefreshAll(context.Background())
	s.logger.Info("feed refresh finished", "new_articles", added, "feeds", len(results))
	return added
}

func (s *Scheduler) processTick() {
	s.logger.Info("processing articles")
	if err := s.processor.ProcessPending(context.Background()); err != nil {
		s.logger.Warn("processing pass failed", "error", err)
	}
}

// GetNextFetchTime returns the next feed-refresh run.
func (s *Scheduler) GetNextFetchTime() time.Time {
	return s.cron.Entry(s.fetchEntryID).Next
}

// GetNextProcessTime returns the next article-processing run.
func (s *Scheduler) GetNextProcessTime() time.Time {
	return s.cron.Entry(s.processEntryID).Next
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}
