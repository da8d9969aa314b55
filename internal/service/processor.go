package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"newsbrief/internal/model"
)

// TextModel is the narrow contract over the external text-classification
// service. *LLMService implements it; tests substitute a stub.
type TextModel interface {
	Summarize(ctx context.Context, title, text string) (string, []string, error)
	ScoreRelevance(ctx context.Context, profile, title, digest string, keywords []string) (ScoreResult, error)
	ScoreWithFeedback(ctx context.Context, profile, title, digest string, keywords []string, liked bool, explanation string, priorScore *int) (ScoreResult, error)
	EvolveProfile(ctx context.Context, current string, history []PreferenceContext) (string, error)
}

var _ TextModel = (*LLMService)(nil)

// ProcessorService runs the summarization and relevance-scoring stages.
// Items are processed one at a time to keep external call volume
// predictable; a single item's failure never aborts its batch.
type ProcessorService struct {
	db         *gorm.DB
	llm        TextModel
	batchSize  int
	threshold  int
	inputLimit int
	logger     *slog.Logger
}

func NewProcessorService(db *gorm.DB, llm TextModel, batchSize, threshold, inputLimit int) *ProcessorService {
	return &ProcessorService{
		db:         db,
		llm:        llm,
		batchSize:  batchSize,
		threshold:  threshold,
		inputLimit: inputLimit,
		logger:     slog.With("component", "processor"),
	}
}

// ProcessPending summarizes one bounded batch of unprocessed articles and
// scores each successful summary against every active profile.
func (s *ProcessorService) ProcessPending(ctx context.Context) error {
	profiles, err := s.activeProfiles()
	if err != nil {
		return err
	}

	articles, err := s.unprocessedArticles(s.batchSize)
	if err != nil {
		return err
	}

	for i := range articles {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		summary := s.summarizeArticle(ctx, &articles[i])
		if summary == nil || summary.Failed() {
			continue
		}

		for j := range profiles {
			s.scoreForUser(ctx, &profiles[j], &articles[i], summary)
		}
	}

	return nil
}

// Process is the trigger entry point: optionally regenerate failed
// summaries, optionally re-evaluate one user's whole summary set, then run
// a normal pending pass.
func (s *ProcessorService) Process(ctx context.Context, userID string, force bool) error {
	if force {
		if err := s.RegenerateFailed(ctx); err != nil {
			s.logger.Warn("forced regeneration failed", "error", err)
		}
	}

	if userID != "" {
		if err := s.RescoreUser(ctx, userID); err != nil {
			s.logger.Warn("user rescore failed", "user", userID, "error", err)
		}
	}

	return s.ProcessPending(ctx)
}

// RegenerateFailed reruns summarization over articles whose summary is the
// error sentinel. A success replaces the sentinel row and the article is
// scored for every active profile.
func (s *ProcessorService) RegenerateFailed(ctx context.Context) error {
	profiles, err := s.activeProfiles()
	if err != nil {
		return err
	}

	var failed []model.ArticleSummary
	if err := s.db.Preload("Article").
		Where("summary LIKE ?", model.SummaryFailedSentinel).
		Limit(s.batchSize).Find(&failed).Error; err != nil {
		return err
	}

	for i := range failed {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		article := failed[i].Article
		summary := s.summarizeArticle(ctx, &article)
		if summary == nil || summary.Failed() {
			continue
		}

		for j := range profiles {
			s.scoreForUser(ctx, &profiles[j], &article, summary)
		}
	}

	return nil
}

// RescoreUser re-evaluates every summarized article for one user. Invoked
// when the user's interest profile changes.
func (s *ProcessorService) RescoreUser(ctx context.Context, userID string) error {
	var profile model.UserInterestProfile
	if err := s.db.Where("user_id = ?", userID).First(&profile).Error; err != nil {
		return err
	}

	var summaries []model.ArticleSummary
	if err := s.db.Preload("Article").
		Where("summary NOT LIKE ?", model.SummaryFailedSentinel).
		Find(&summaries).Error; err != nil {
		return err
	}

	for i := range summaries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		s.scoreForUser(ctx, &profile, &summaries[i].Article, &summaries[i])
	}

	return nil
}

// ApplyScore enforces the threshold rule: upsert at or above the threshold,
// delete any existing recommendation below it. Keeps the (user, article)
// pair unique no matter how often it is called.
func (s *ProcessorService) ApplyScore(userID string, articleID uint, res ScoreResult) error {
	if res.Relevant && res.Score >= s.threshold {
		var rec model.Recommendation
		err := s.db.Where("user_id = ? AND article_id = ?", userID, articleID).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			rec = model.Recommendation{
				UserID:    userID,
				ArticleID: articleID,
				Score:     res.Score,
				Reason:    res.Reason,
			}
			return s.db.Create(&rec).Error
		}
		if err != nil {
			return err
		}
		rec.Score = res.Score
		rec.Reason = res.Reason
		return s.db.Save(&rec).Error
	}

	return s.db.Where("user_id = ? AND article_id = ?", userID, articleID).
		Delete(&model.Recommendation{}).Error
}

// summarizeArticle picks the summarization input, calls the external
// summarizer and upserts the result. A failed call persists the error
// sentinel so the article leaves the unprocessed queue but stays
// recoverable. Returns nil when the article has no usable text yet.
func (s *ProcessorService) summarizeArticle(ctx context.Context, article *model.Article) *model.ArticleSummary {
	input := shorterNonEmpty(article.Description, article.BodyText())
	if strings.TrimSpace(input) == "" {
		return nil
	}

	text := truncate(stripHTML(input), s.inputLimit)

	digest, keywords, err := s.llm.Summarize(ctx, article.Title, text)
	if err != nil {
		s.logger.Warn("summarization failed", "article", article.ID, "error", err)
		digest, keywords = model.SummaryFailedSentinel, nil
	}

	summary, err := s.upsertSummary(article.ID, digest, keywords)
	if err != nil {
		s.logger.Warn("failed to store summary", "article", article.ID, "error", err)
		return nil
	}
	return summary
}

func (s *ProcessorService) upsertSummary(articleID uint, digest string, keywords []string) (*model.ArticleSummary, error) {
	var summary model.ArticleSummary
	err := s.db.Where("article_id = ?", articleID).First(&summary).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		summary = model.ArticleSummary{
			ArticleID:   articleID,
			Summary:     digest,
			Keywords:    keywords,
			ProcessedAt: time.Now(),
		}
		if err := s.db.Create(&summary).Error; err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		summary.Summary = digest
		summary.Keywords = keywords
		summary.ProcessedAt = time.Now()
		if err := s.db.Save(&summary).Error; err != nil {
			return nil, err
		}
	}

	return &summary, nil
}

func (s *ProcessorService) scoreForUser(ctx context.Context, profile *model.UserInterestProfile, article *model.Article, summary *model.ArticleSummary) {
	res, err := s.llm.ScoreRelevance(ctx, profile.Interests, article.Title, summary.Summary, summary.Keywords)
	if err != nil {
		// existing recommendations are kept when the scorer is down
		s.logger.Warn("relevance scoring failed", "article", article.ID, "user", profile.UserID, "error", err)
		return
	}

	if err := s.ApplyScore(profile.UserID, article.ID, res); err != nil {
		s.logger.Warn("failed to apply score", "article", article.ID, "user", profile.UserID, "error", err)
	}
}

// activeProfiles lists the stored interest profiles. The pipeline never
// invents a default user; bootstrapping happens at system initialization.
func (s *ProcessorService) activeProfiles() ([]model.UserInterestProfile, error) {
	var profiles []model.UserInterestProfile
	if err := s.db.Find(&profiles).Error; err != nil {
		return nil, err
	}
	return profiles, nil
}

func (s *ProcessorService) unprocessedArticles(limit int) ([]model.Article, error) {
	sub := s.db.Model(&model.ArticleSummary{}).Select("article_id")

	var articles []model.Article
	if err := s.db.Where("id NOT IN (?)", sub).
		Order("pub_date DESC").Limit(limit).Find(&articles).Error; err != nil {
		return nil, err
	}
	return articles, nil
}
