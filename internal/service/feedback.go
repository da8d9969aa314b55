package service

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"newsbrief/internal/model"
)

// FeedbackService runs the vote-triggered rescoring loop: preference
// upsert, feedback rescore of the voted article, a bounded rescore of the
// user's recent window, then profile evolution. Each step tolerates the
// previous one's partial failure.
type FeedbackService struct {
	db        *gorm.DB
	llm       TextModel
	processor *ProcessorService
	window    int
	logger    *slog.Logger
}

func NewFeedbackService(db *gorm.DB, llm TextModel, processor *ProcessorService, window int) *FeedbackService {
	return &FeedbackService{
		db:        db,
		llm:       llm,
		processor: processor,
		window:    window,
		logger:    slog.With("component", "feedback"),
	}
}

// RecordVote persists a like/dislike verdict and propagates it. Only the
// preference upsert itself is a hard error; every later step logs and
// continues. Returns the voted article's recommendation state afterwards,
// nil when it dropped below threshold or never existed.
func (s *FeedbackService) RecordVote(ctx context.Context, userID string, articleID uint, liked bool, explanation string) (*model.Recommendation, error) {
	var article model.Article
	if err := s.db.First(&article, articleID).Error; err != nil {
		return nil, err
	}

	if err := s.upsertPreference(userID, articleID, liked, explanation); err != nil {
		return nil, err
	}

	profile, err := s.getOrCreateProfile(userID)
	if err != nil {
		return nil, err
	}

	if err := s.rescoreWithFeedback(ctx, profile, &article, liked, explanation); err != nil {
		s.logger.Warn("feedback rescore failed", "article", articleID, "user", userID, "error", err)
	}

	s.rescoreRecent(ctx, profile, articleID)

	s.evolveProfile(ctx, profile)

	var rec model.Recommendation
	if err := s.db.Where("user_id = ? AND article_id = ?", userID, articleID).First(&rec).Error; err != nil {
		return nil, nil
	}
	return &rec, nil
}

func (s *FeedbackService) upsertPreference(userID string, articleID uint, liked bool, explanation string) error {
	var pref model.ArticlePreference
	err := s.db.Where("user_id = ? AND article_id = ?", userID, articleID).First(&pref).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		pref = model.ArticlePreference{
			UserID:      userID,
			ArticleID:   articleID,
			Liked:       liked,
			Explanation: explanation,
		}
		return s.db.Create(&pref).Error
	}
	if err != nil {
		return err
	}

	pref.Liked = liked
	pref.Explanation = explanation
	return s.db.Save(&pref).Error
}

// getOrCreateProfile creates the profile lazily on a user's first explicit
// action, seeded with the default description.
func (s *FeedbackService) getOrCreateProfile(userID string) (*model.UserInterestProfile, error) {
	var profile model.UserInterestProfile
	err := s.db.Where("user_id = ?", userID).First(&profile).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile = model.UserInterestProfile{
			UserID:    userID,
			Interests: model.DefaultInterests,
		}
		if err := s.db.Create(&profile).Error; err != nil {
			return nil, err
		}
		return &profile, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// rescoreWithFeedback re-scores one article with the verdict and the prior
// recommendation folded into the classifier call. Articles without a usable
// summary are skipped.
func (s *FeedbackService) rescoreWithFeedback(ctx context.Context, profile *model.UserInterestProfile, article *model.Article, liked bool, explanation string) error {
	var summary model.ArticleSummary
	if err := s.db.Where("article_id = ?", article.ID).First(&summary).Error; err != nil {
		return nil
	}
	if summary.Failed() {
		return nil
	}

	var prior *int
	var rec model.Recommendation
	if err := s.db.Where("user_id = ? AND article_id = ?", profile.UserID, article.ID).First(&rec).Error; err == nil {
		prior = &rec.Score
	}

	res, err := s.llm.ScoreWithFeedback(ctx, profile.Interests, article.Title, summary.Summary, summary.Keywords, liked, explanation, prior)
	if err != nil {
		return err
	}

	return s.processor.ApplyScore(profile.UserID, article.ID, res)
}

// rescoreRecent propagates the new signal across the most recently
// published articles without waiting for the next scheduled cycle. Items
// the user already voted on are rescored with their feedback context.
func (s *FeedbackService) rescoreRecent(ctx context.Context, profile *model.UserInterestProfile, excludeID uint) {
	var articles []model.Article
	if err := s.db.Where("id <> ?", excludeID).
		Order("pub_date DESC").Limit(s.window).Find(&articles).Error; err != nil {
		s.logger.Warn("failed to load rescore window", "error", err)
		return
	}

	for i := range articles {
		select {
		case <-ctx.Done():
			return
		default:
		}

		article := &articles[i]

		var pref model.ArticlePreference
		err := s.db.Where("user_id = ? AND article_id = ?", profile.UserID, article.ID).First(&pref).Error

		if err == nil {
			err = s.rescoreWithFeedback(ctx, profile, article, pref.Liked, pref.Explanation)
		} else {
			err = s.rescorePlain(ctx, profile, article)
		}

		if err != nil {
			s.logger.Warn("window rescore failed", "article", article.ID, "user", profile.UserID, "error", err)
		}
	}
}

func (s *FeedbackService) rescorePlain(ctx context.Context, profile *model.UserInterestProfile, article *model.Article) error {
	var summary model.ArticleSummary
	if err := s.db.Where("article_id = ?", article.ID).First(&summary).Error; err != nil {
		return nil
	}
	if summary.Failed() {
		return nil
	}

	res, err := s.llm.ScoreRelevance(ctx, profile.Interests, article.Title, summary.Summary, summary.Keywords)
	if err != nil {
		return err
	}

	return s.processor.ApplyScore(profile.UserID, article.ID, res)
}

// evolveProfile rewrites the interest description from the user's full
// preference history, keeping still-relevant prior interests.
func (s *FeedbackService) evolveProfile(ctx context.Context, profile *model.UserInterestProfile) {
	var prefs []model.ArticlePreference
	if err := s.db.Preload("Article").
		Where("user_id = ?", profile.UserID).
		Order("created_at ASC").Find(&prefs).Error; err != nil {
		s.logger.Warn("failed to load preference history", "user", profile.UserID, "error", err)
		return
	}
	if len(prefs) == 0 {
		return
	}

	history := make([]PreferenceContext, 0, len(prefs))
	for i := range prefs {
		history = append(history, PreferenceContext{
			Title:       prefs[i].Article.Title,
			Liked:       prefs[i].Liked,
			Explanation: prefs[i].Explanation,
		})
	}

	updated, err := s.llm.EvolveProfile(ctx, profile.Interests, history)
	if err != nil {
		s.logger.Warn("profile evolution failed", "user", profile.UserID, "error", err)
		return
	}

	profile.Interests = updated
	if err := s.db.Save(profile).Error; err != nil {
		s.logger.Warn("failed to save profile", "user", profile.UserID, "error", err)
	}
}
