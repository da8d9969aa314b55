package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"newsbrief/internal/model"
	"newsbrief/internal/service"
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

// stubModel replaces the external classification service behind the API.
type stubModel struct {
	summarize     func(title, text string) (string, []string, error)
	score         func(profile, title, digest string) (service.ScoreResult, error)
	feedbackScore func(profile, title string, liked bool, explanation string, prior *int) (service.ScoreResult, error)
}

func (m *stubModel) Summarize(_ context.Context, title, text string) (string, []string, error) {
	if m.summarize == nil {
		return "digest of " + title, []string{"news"}, nil
	}
	return m.summarize(title, text)
}

func (m *stubModel) ScoreRelevance(_ context.Context, profile, title, digest string, _ []string) (service.ScoreResult, error) {
	if m.score == nil {
		return service.ScoreResult{Relevant: true, Score: 80, Reason: "stub"}, nil
	}
	return m.score(profile, title, digest)
}

func (m *stubModel) ScoreWithFeedback(_ context.Context, profile, title, _ string, _ []string, liked bool, explanation string, prior *int) (service.ScoreResult, error) {
	if m.feedbackScore == nil {
		return service.ScoreResult{Relevant: true, Score: 80, Reason: "stub"}, nil
	}
	return m.feedbackScore(profile, title, liked, explanation, prior)
}

func (m *stubModel) EvolveProfile(_ context.Context, current string, _ []service.PreferenceContext) (string, error) {
	return current, nil
}

func newTestRouter(t *testing.T, llm service.TextModel) (*gin.Engine, *gorm.DB, *service.TaskSet) {
	t.Helper()

	db := newTestDB(t)
	tasks := service.NewTaskSet()
	llmSvc := service.NewLLMService(db, time.Second, time.Second)
	content := service.NewContentService(db, time.Second, 0)
	feedSvc := service.NewFeedService(db, content, tasks, time.Second)
	processor := service.NewProcessorService(db, llm, 5, 50, 4000)
	feedback := service.NewFeedbackService(db, llm, processor, 20)
	status := service.NewStatusService(db)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(db, feedSvc, processor, feedback, llmSvc, status, tasks)
	h.RegisterRoutes(r)

	return r, db, tasks
}

func doJSON(r *gin.Engine, method, path string, payload any) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if payload != nil {
		_ = json.NewEncoder(&body).Encode(payload)
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateFeedValidation(t *testing.T) {
	r, db, _ := newTestRouter(t, &stubModel{})

	w := doJSON(r, http.MethodPost, "/api/feeds", map[string]any{"title": "no url"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/api/feeds", map[string]any{"url": "http://example.com/rss", "auto_refresh": true})
	assert.Equal(t, http.StatusOK, w.Code)

	var count int64
	db.Model(&model.Feed{}).Count(&count)
	assert.EqualValues(t, 1, count)

	w = doJSON(r, http.MethodGet, "/api/feeds", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestVoteEndpoint(t *testing.T) {
	llm := &stubModel{
		feedbackScore: func(_, _ string, _ bool, _ string, _ *int) (service.ScoreResult, error) {
			return service.ScoreResult{Relevant: false, Score: 10, Reason: "rejected"}, nil
		},
	}
	r, db, _ := newTestRouter(t, llm)

	feed := model.Feed{URL: "http://example.com/rss", AutoRefresh: true}
	require.NoError(t, db.Create(&feed).Error)
	article := model.Article{FeedID: feed.ID, Title: "Voted", Link: "http://example.com/a", PubDate: time.Now()}
	require.NoError(t, db.Create(&article).Error)
	require.NoError(t, db.Create(&model.ArticleSummary{ArticleID: article.ID, Summary: "digest", ProcessedAt: time.Now()}).Error)
	require.NoError(t, db.Create(&model.UserInterestProfile{UserID: "u1", Interests: "tech"}).Error)
	require.NoError(t, db.Create(&model.Recommendation{UserID: "u1", ArticleID: article.ID, Score: 70}).Error)

	w := doJSON(r, http.MethodPost, "/api/votes", map[string]any{
		"user_id": "u1", "article_id": article.ID, "liked": false, "explanation": "too political",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Recommended bool `json:"recommended"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Recommended)

	// missing verdict fails validation
	w = doJSON(r, http.MethodPost, "/api/votes", map[string]any{"user_id": "u1", "article_id": article.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// unknown article
	w = doJSON(r, http.MethodPost, "/api/votes", map[string]any{
		"user_id": "u1", "article_id": 9999, "liked": true,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecommendationsOrderingAndViewed(t *testing.T) {
	r, db, _ := newTestRouter(t, &stubModel{})

	feed := model.Feed{URL: "http://example.com/rss"}
	require.NoError(t, db.Create(&feed).Error)

	now := time.Now()
	mk := func(title string, pub time.Time) model.Article {
		a := model.Article{FeedID: feed.ID, Title: title, Link: "http://example.com/" + title, PubDate: pub}
		require.NoError(t, db.Create(&a).Error)
		return a
	}

	top := mk("top", now.Add(-3*time.Hour))
	newer := mk("newer", now)
	older := mk("older", now.Add(-2*time.Hour))
	seen := mk("seen", now)

	require.NoError(t, db.Create(&model.Recommendation{UserID: "u1", ArticleID: top.ID, Score: 90}).Error)
	require.NoError(t, db.Create(&model.Recommendation{UserID: "u1", ArticleID: newer.ID, Score: 70}).Error)
	require.NoError(t, db.Create(&model.Recommendation{UserID: "u1", ArticleID: older.ID, Score: 70}).Error)
	viewed := model.Recommendation{UserID: "u1", ArticleID: seen.ID, Score: 99, Viewed: true}
	require.NoError(t, db.Create(&viewed).Error)

	w := doJSON(r, http.MethodGet, "/api/recommendations?user_id=u1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []struct {
			Article model.Article `json:"article"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 3, "viewed items are excluded")

	// score descending, ties broken by publish time descending
	assert.Equal(t, "top", resp.Data[0].Article.Title)
	assert.Equal(t, "newer", resp.Data[1].Article.Title)
	assert.Equal(t, "older", resp.Data[2].Article.Title)

	// user_id is mandatory
	w = doJSON(r, http.MethodGet, "/api/recommendations", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMarkViewed(t *testing.T) {
	r, db, _ := newTestRouter(t, &stubModel{})

	feed := model.Feed{URL: "http://example.com/rss"}
	require.NoError(t, db.Create(&feed).Error)
	article := model.Article{FeedID: feed.ID, Title: "A", Link: "http://example.com/a", PubDate: time.Now()}
	require.NoError(t, db.Create(&article).Error)
	rec := model.Recommendation{UserID: "u1", ArticleID: article.ID, Score: 60}
	require.NoError(t, db.Create(&rec).Error)

	w := doJSON(r, http.MethodPost, "/api/recommendations/1/viewed", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var stored model.Recommendation
	require.NoError(t, db.First(&stored, rec.ID).Error)
	assert.True(t, stored.Viewed)

	w = doJSON(r, http.MethodPost, "/api/recommendations/999/viewed", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSaveProfileTriggersRescore(t *testing.T) {
	r, db, tasks := newTestRouter(t, &stubModel{})

	feed := model.Feed{URL: "http://example.com/rss"}
	require.NoError(t, db.Create(&feed).Error)
	article := model.Article{FeedID: feed.ID, Title: "A", Link: "http://example.com/a", PubDate: time.Now()}
	require.NoError(t, db.Create(&article).Error)
	require.NoError(t, db.Create(&model.ArticleSummary{ArticleID: article.ID, Summary: "digest", ProcessedAt: time.Now()}).Error)

	w := doJSON(r, http.MethodPut, "/api/users/u1/profile", map[string]any{"interests": "kernel internals"})
	require.Equal(t, http.StatusOK, w.Code)
	tasks.Wait()

	var profile model.UserInterestProfile
	require.NoError(t, db.Where("user_id = ?", "u1").First(&profile).Error)
	assert.Equal(t, "kernel internals", profile.Interests)

	// the background rescore evaluated the existing summary
	var rec model.Recommendation
	require.NoError(t, db.Where("user_id = ? AND article_id = ?", "u1", article.ID).First(&rec).Error)
	assert.Equal(t, 80, rec.Score)

	w = doJSON(r, http.MethodGet, "/api/users/u1/profile", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/api/users/nobody/profile", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProcessEndpointDetached(t *testing.T) {
	r, db, tasks := newTestRouter(t, &stubModel{})

	feed := model.Feed{URL: "http://example.com/rss"}
	require.NoError(t, db.Create(&feed).Error)
	article := model.Article{FeedID: feed.ID, Title: "Pending", Link: "http://example.com/p", Description: "text", PubDate: time.Now()}
	require.NoError(t, db.Create(&article).Error)
	require.NoError(t, db.Create(&model.UserInterestProfile{UserID: "u1", Interests: "tech"}).Error)

	w := doJSON(r, http.MethodPost, "/api/articles/process", map[string]any{})
	assert.Equal(t, http.StatusAccepted, w.Code)
	tasks.Wait()

	var count int64
	db.Model(&model.ArticleSummary{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestArticleFlags(t *testing.T) {
	r, db, _ := newTestRouter(t, &stubModel{})

	feed := model.Feed{URL: "http://example.com/rss"}
	require.NoError(t, db.Create(&feed).Error)
	article := model.Article{FeedID: feed.ID, Title: "A", Link: "http://example.com/a", PubDate: time.Now()}
	require.NoError(t, db.Create(&article).Error)

	w := doJSON(r, http.MethodPost, "/api/articles/1/read", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPost, "/api/articles/1/favorite", map[string]any{"value": true})
	assert.Equal(t, http.StatusOK, w.Code)

	var stored model.Article
	require.NoError(t, db.First(&stored, article.ID).Error)
	assert.True(t, stored.Read)
	assert.True(t, stored.Favorite)

	w = doJSON(r, http.MethodPost, "/api/articles/999/read", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusEndpoint(t *testing.T) {
	r, db, _ := newTestRouter(t, &stubModel{})

	require.NoError(t, db.Create(&model.Feed{URL: "http://example.com/rss"}).Error)

	w := doJSON(r, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status service.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.EqualValues(t, 1, status.TotalFeeds)
}
