package main

import (
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"newsbrief/config"
	"newsbrief/internal/handler"
	"newsbrief/internal/model"
	"newsbrief/internal/scheduler"
	"newsbrief/internal/service"
)

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := gorm.Open(sqlite.Open(cfg.Database.Path), &gorm.Config{})
	if err != nil {
		slog.Error("failed to connect database", "error", err)
		os.Exit(1)
	}

	if err := db.AutoMigrate(
		&model.Feed{},
		&model.Article{},
		&model.ArticleSummary{},
		&model.UserInterestProfile{},
		&model.Recommendation{},
		&model.ArticlePreference{},
		&model.Config{},
	); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	initDefaults(db)

	tasks := service.NewTaskSet()
	llmSvc := service.NewLLMService(db, cfg.Pipeline.LLMTimeout(), cfg.Pipeline.LLMRetryMaxElapsed())
	contentSvc := service.NewContentService(db, cfg.Pipeline.ContentTimeout(), cfg.Pipeline.MinContentLength)
	feedSvc := service.NewFeedService(db, contentSvc, tasks, cfg.Pipeline.FeedFetchTimeout())
	processorSvc := service.NewProcessorService(db, llmSvc,
		cfg.Pipeline.ProcessBatchSize, cfg.Pipeline.RecommendThreshold, cfg.Pipeline.SummaryInputLimit)
	feedbackSvc := service.NewFeedbackService(db, llmSvc, processorSvc, cfg.Pipeline.RescoreWindow)
	statusSvc := service.NewStatusService(db)

	sched := scheduler.NewScheduler(feedSvc, processorSvc, cfg.Cron)
	sched.Start()
	defer sched.Stop()

	r := gin.Default()

	h := handler.NewHandler(db, feedSvc, processorSvc, feedbackSvc, llmSvc, statusSvc, tasks)
	h.SetScheduler(sched)
	h.RegisterRoutes(r)

	slog.Info("server starting", "addr", cfg.GetServerAddress())
	if err := r.Run(cfg.GetServerAddress()); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// initDefaults seeds the LLM settings, the prompt templates and the default
// reader profile. The pipeline itself never creates users; this is the only
// place a profile appears without an explicit save.
func initDefaults(db *gorm.DB) {
	defaults := map[string]string{
		model.ConfigLLMProvider: "openai",
		model.ConfigLLMApiURL:   "https://api.openai.com/v1",
		model.ConfigLLMModel:    "gpt-4o-mini",
		model.ConfigPromptSummary: `You summarize news articles. Respond with JSON only:
{"summary": "...", "keywords": ["..."]}
Keep the summary under 120 words and extract up to 8 keywords.`,
		model.ConfigPromptScore: `You judge how well an article matches a reader's interests.
Respond with JSON only: {"relevant": true/false, "score": 1-100, "reason": "..."}
A score of 50 or above means the article is worth recommending.`,
		model.ConfigPromptFeedbackScore: `You judge how well an article matches a reader's interests.
The reader has given an explicit verdict on this article; weigh it heavily
and let the reason acknowledge the shift. Respond with JSON only:
{"relevant": true/false, "score": 1-100, "reason": "..."}`,
		model.ConfigPromptProfile: `You maintain a reader's interest profile. Given the current profile and
the reader's feedback history, write an updated profile that keeps
still-relevant interests and folds in what the feedback reveals. Keep
roughly the same length. Respond with the profile text only.`,
	}

	for key, value := range defaults {
		db.Where("key = ?", key).FirstOrCreate(&model.Config{Key: key, Value: value})
	}

	db.Where("user_id = ?", "default").
		FirstOrCreate(&model.UserInterestProfile{UserID: "default", Interests: model.DefaultInterests})
}
