package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"newsbrief/internal/model"
	"newsbrief/internal/service"
)

// Handler is the thin routing boundary: validate input, call into the
// services, translate errors. No pipeline logic lives here.
type Handler struct {
	db        *gorm.DB
	feed      *service.FeedService
	processor *service.ProcessorService
	feedback  *service.FeedbackService
	llm       *service.LLMService
	status    *service.StatusService
	tasks     *service.TaskSet
	scheduler interface {
		GetNextFetchTime() time.Time
		GetNextProcessTime() time.Time
	}
}

func NewHandler(db *gorm.DB, feed *service.FeedService, processor *service.ProcessorService, feedback *service.FeedbackService, llm *service.LLMService, status *service.StatusService, tasks *service.TaskSet) *Handler {
	return &Handler{
		db:        db,
		feed:      feed,
		processor: processor,
		feedback:  feedback,
		llm:       llm,
		status:    status,
		tasks:     tasks,
	}
}

// SetScheduler wires the scheduler reference used by the status endpoint.
func (h *Handler) SetScheduler(scheduler interface {
	GetNextFetchTime() time.Time
	GetNextProcessTime() time.Time
}) {
	h.scheduler = scheduler
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		// Feeds
		api.GET("/feeds", h.ListFeeds)
		api.POST("/feeds", h.CreateFeed)
		api.DELETE("/feeds/:id", h.DeleteFeed)
		api.POST("/feeds/refresh", h.RefreshAllFeeds)
		api.POST("/feeds/:id/refresh", h.RefreshFeed)

		// Articles
		api.GET("/articles", h.ListArticles)
		api.POST("/articles/process", h.ProcessArticles)
		api.POST("/articles/:id/read", h.MarkRead)
		api.POST("/articles/:id/favorite", h.MarkFavorite)

		// Personalization
		api.POST("/votes", h.RecordVote)
		api.GET("/recommendations", h.ListRecommendations)
		api.POST("/recommendations/:id/viewed", h.MarkViewed)
		api.GET("/users/:id/profile", h.GetProfile)
		api.PUT("/users/:id/profile", h.SaveProfile)

		// Config
		api.GET("/config", h.GetConfig)
		api.POST("/config", h.SaveConfig)

		// LLM
		api.GET("/llm/models", h.GetLLMModels)
		api.POST("/llm/test", h.TestLLMConnection)

		// Status
		api.GET("/status", h.GetStatus)
	}
}

// ===== Feeds =====

func (h *Handler) ListFeeds(c *gin.Context) {
	var feeds []model.Feed
	h.db.Find(&feeds)
	c.JSON(http.StatusOK, feeds)
}

func (h *Handler) CreateFeed(c *gin.Context) {
	var feed model.Feed
	if err := c.ShouldBindJSON(&feed); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if feed.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	if err := h.db.Create(&feed).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, feed)
}

func (h *Handler) DeleteFeed(c *gin.Context) {
	id := c.Param("id")
	// feed deletion cascades to its articles
	h.db.Where("feed_id = ?", id).Delete(&model.Article{})
	h.db.Delete(&model.Feed{}, id)
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (h *Handler) RefreshFeed(c *gin.Context) {
	id, _ := strconv.Atoi(c.Param("id"))
	var feed model.Feed
	if err := h.db.First(&feed, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "feed not found"})
		return
	}

	count, err := h.feed.Refresh(c.Request.Context(), &feed)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"new_articles": count})
}

func (h *Handler) RefreshAllFeeds(c *gin.Context) {
	total, results := h.feed.RefreshAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"new_articles": total, "results": results})
}

// ===== Articles =====

func (h *Handler) ListArticles(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize := 20

	query := h.db.Model(&model.Article{}).Preload("Feed")

	if feedID := c.Query("feed_id"); feedID != "" {
		query = query.Where("feed_id = ?", feedID)
	}
	if read := c.Query("read"); read != "" {
		query = query.Where("read = ?", read == "true")
	}
	if favorite := c.Query("favorite"); favorite != "" {
		query = query.Where("favorite = ?", favorite == "true")
	}

	var total int64
	query.Count(&total)

	var articles []model.Article
	query.Order("pub_date DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&articles)

	c.JSON(http.StatusOK, gin.H{
		"data":  articles,
		"total": total,
		"page":  page,
	})
}

type processRequest struct {
	UserID          string `json:"user_id"`
	ForceRegenerate bool   `json:"force_regenerate"`
}

func (h *Handler) ProcessArticles(c *gin.Context) {
	var req processRequest
	_ = c.ShouldBindJSON(&req)

	h.tasks.Go("process", func() error {
		return h.processor.Process(context.Background(), req.UserID, req.ForceRegenerate)
	})

	c.JSON(http.StatusAccepted, gin.H{"message": "processing started"})
}

func (h *Handler) MarkRead(c *gin.Context) {
	h.setArticleFlag(c, "read")
}

func (h *Handler) MarkFavorite(c *gin.Context) {
	h.setArticleFlag(c, "favorite")
}

func (h *Handler) setArticleFlag(c *gin.Context, column string) {
	var body struct {
		Value *bool `json:"value"`
	}
	_ = c.ShouldBindJSON(&body)
	value := true
	if body.Value != nil {
		value = *body.Value
	}

	res := h.db.Model(&model.Article{}).Where("id = ?", c.Param("id")).Update(column, value)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": res.Error.Error()})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{column: value})
}

// ===== Personalization =====

type voteRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	ArticleID   uint   `json:"article_id" binding:"required"`
	Liked       *bool  `json:"liked" binding:"required"`
	Explanation string `json:"explanation"`
}

func (h *Handler) RecordVote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.feedback.RecordVote(c.Request.Context(), req.UserID, req.ArticleID, *req.Liked, req.Explanation)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"recommended":    rec != nil,
		"recommendation": rec,
	})
}

type recommendationView struct {
	Recommendation model.Recommendation  `json:"recommendation"`
	Article        model.Article         `json:"article"`
	Summary        *model.ArticleSummary `json:"summary,omitempty"`
}

func (h *Handler) ListRecommendations(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	var recs []model.Recommendation
	err := h.db.Preload("Article").
		Joins("JOIN articles ON articles.id = recommendations.article_id").
		Where("recommendations.user_id = ? AND recommendations.viewed = ?", userID, false).
		Order("recommendations.score DESC, articles.pub_date DESC").
		Find(&recs).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ids := make([]uint, 0, len(recs))
	for i := range recs {
		ids = append(ids, recs[i].ArticleID)
	}

	summaries := make(map[uint]model.ArticleSummary)
	if len(ids) > 0 {
		var rows []model.ArticleSummary
		h.db.Where("article_id IN ?", ids).Find(&rows)
		for i := range rows {
			summaries[rows[i].ArticleID] = rows[i]
		}
	}

	views := make([]recommendationView, 0, len(recs))
	for i := range recs {
		view := recommendationView{
			Recommendation: recs[i],
			Article:        recs[i].Article,
		}
		if s, ok := summaries[recs[i].ArticleID]; ok {
			summary := s
			view.Summary = &summary
		}
		views = append(views, view)
	}

	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (h *Handler) MarkViewed(c *gin.Context) {
	res := h.db.Model(&model.Recommendation{}).Where("id = ?", c.Param("id")).Update("viewed", true)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": res.Error.Error()})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "recommendation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "viewed"})
}

func (h *Handler) GetProfile(c *gin.Context) {
	var profile model.UserInterestProfile
	if err := h.db.Where("user_id = ?", c.Param("id")).First(&profile).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

type profileRequest struct {
	Interests string `json:"interests" binding:"required"`
}

// SaveProfile stores the edited interests and re-evaluates the user's
// existing summaries in the background.
func (h *Handler) SaveProfile(c *gin.Context) {
	userID := c.Param("id")

	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var profile model.UserInterestProfile
	err := h.db.Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile = model.UserInterestProfile{UserID: userID, Interests: req.Interests}
		err = h.db.Create(&profile).Error
	} else if err == nil {
		profile.Interests = req.Interests
		err = h.db.Save(&profile).Error
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.tasks.Go("rescore", func() error {
		return h.processor.RescoreUser(context.Background(), userID)
	})

	c.JSON(http.StatusOK, profile)
}

// ===== Config =====

func (h *Handler) GetConfig(c *gin.Context) {
	var configs []model.Config
	h.db.Find(&configs)

	result := make(map[string]string)
	for _, cfg := range configs {
		result[cfg.Key] = cfg.Value
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) SaveConfig(c *gin.Context) {
	var input map[string]string
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	for key, value := range input {
		h.db.Where("key = ?", key).Assign(model.Config{Value: value}).FirstOrCreate(&model.Config{Key: key})
	}

	c.JSON(http.StatusOK, gin.H{"message": "saved"})
}

// ===== LLM =====

func (h *Handler) GetLLMModels(c *gin.Context) {
	models, err := h.llm.GetModels(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"models": models})
}

func (h *Handler) TestLLMConnection(c *gin.Context) {
	response, err := h.llm.TestConnection(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"response": response,
	})
}

// ===== Status =====

func (h *Handler) GetStatus(c *gin.Context) {
	status, err := h.status.GetSystemStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if h.scheduler != nil {
		status.NextFetchTime = h.scheduler.GetNextFetchTime()
		status.NextProcessTime = h.scheduler.GetNextProcessTime()
	}

	c.JSON(http.StatusOK, status)
}
