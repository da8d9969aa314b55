package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"newsbrief/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&model.Feed{},
		&model.Article{},
		&model.ArticleSummary{},
		&model.UserInterestProfile{},
		&model.Recommendation{},
		&model.ArticlePreference{},
		&model.Config{},
	))

	return db
}

func seedFeed(t *testing.T, db *gorm.DB, url string) model.Feed {
	t.Helper()
	feed := model.Feed{URL: url, Title: "Test Feed", AutoRefresh: true}
	require.NoError(t, db.Create(&feed).Error)
	return feed
}

func seedArticle(t *testing.T, db *gorm.DB, feedID uint, title, description string, pub time.Time) model.Article {
	t.Helper()
	article := model.Article{
		FeedID:      feedID,
		Title:       title,
		Link:        "http://example.com/" + title,
		Description: description,
		PubDate:     pub,
	}
	require.NoError(t, db.Create(&article).Error)
	return article
}

func seedProfile(t *testing.T, db *gorm.DB, userID, interests string) model.UserInterestProfile {
	t.Helper()
	profile := model.UserInterestProfile{UserID: userID, Interests: interests}
	require.NoError(t, db.Create(&profile).Error)
	return profile
}

func seedSummary(t *testing.T, db *gorm.DB, articleID uint, digest string, keywords []string) model.ArticleSummary {
	t.Helper()
	summary := model.ArticleSummary{
		ArticleID:   articleID,
		Summary:     digest,
		Keywords:    keywords,
		ProcessedAt: time.Now(),
	}
	require.NoError(t, db.Create(&summary).Error)
	return summary
}

// stubModel substitutes the external classification service. Unset hooks
// fall back to a benign default.
type stubModel struct {
	summarize     func(title, text string) (string, []string, error)
	score         func(profile, title, digest string) (ScoreResult, error)
	feedbackScore func(profile, title string, liked bool, explanation string, prior *int) (ScoreResult, error)
	evolve        func(current string, history []PreferenceContext) (string, error)
}

func (m *stubModel) Summarize(_ context.Context, title, text string) (string, []string, error) {
	if m.summarize == nil {
		return "digest of " + title, []string{"news"}, nil
	}
	return m.summarize(title, text)
}

func (m *stubModel) ScoreRelevance(_ context.Context, profile, title, digest string, _ []string) (ScoreResult, error) {
	if m.score == nil {
		return ScoreResult{Relevant: true, Score: 60, Reason: "stub"}, nil
	}
	return m.score(profile, title, digest)
}

func (m *stubModel) ScoreWithFeedback(_ context.Context, profile, title, _ string, _ []string, liked bool, explanation string, prior *int) (ScoreResult, error) {
	if m.feedbackScore == nil {
		return ScoreResult{Relevant: true, Score: 60, Reason: "stub"}, nil
	}
	return m.feedbackScore(profile, title, liked, explanation, prior)
}

func (m *stubModel) EvolveProfile(_ context.Context, current string, history []PreferenceContext) (string, error) {
	if m.evolve == nil {
		return current, nil
	}
	return m.evolve(current, history)
}

func newTestProcessor(db *gorm.DB, llm TextModel) *ProcessorService {
	return NewProcessorService(db, llm, 5, 50, 4000)
}
