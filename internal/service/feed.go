package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"gorm.io/gorm"

	"newsbrief/internal/model"
)

// RefreshResult is the per-feed outcome of a bulk refresh.
type RefreshResult struct {
	FeedID      uint   `json:"feed_id"`
	Title       string `json:"title"`
	NewArticles int    `json:"new_articles"`
	Error       string `json:"error,omitempty"`
}

type FeedService struct {
	db      *gorm.DB
	parser  *gofeed.Parser
	content *ContentService
	tasks   *TaskSet
	timeout time.Duration
	logger  *slog.Logger
}

func NewFeedService(db *gorm.DB, content *ContentService, tasks *TaskSet, timeout time.Duration) *FeedService {
	parser := gofeed.NewParser()
	parser.UserAgent = browserUserAgent
	return &FeedService{
		db:      db,
		parser:  parser,
		content: content,
		tasks:   tasks,
		timeout: timeout,
		logger:  slog.With("component", "feed"),
	}
}

// FetchFeed refreshes one feed: fetch, parse, dedup by identity key, insert
// the rest. Returns the newly created articles so downstream stages can act
// immediately.
func (s *FeedService) FetchFeed(ctx context.Context, feed *model.Feed) ([]model.Article, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	parsed, err := s.parser.ParseURLWithContext(feed.URL, ctx)
	if err != nil {
		return nil, err
	}

	s.updateFeedMeta(feed, parsed)

	existing, err := s.storedKeys(feed.ID)
	if err != nil {
		return nil, err
	}

	var created []model.Article
	for _, item := range parsed.Items {
		article := normalizeItem(feed.ID, item)
		if article == nil {
			continue
		}

		key := article.IdentityKey()
		if existing[key] {
			continue
		}

		if err := s.db.Create(article).Error; err != nil {
			s.logger.Warn("failed to store article", "link", article.Link, "error", err)
			continue
		}
		existing[key] = true
		created = append(created, *article)
	}

	return created, nil
}

// Refresh refreshes one feed and backfills missing bodies inline.
func (s *FeedService) Refresh(ctx context.Context, feed *model.Feed) (int, error) {
	created, err := s.FetchFeed(ctx, feed)
	if err != nil {
		return 0, err
	}

	for i := range created {
		if err := s.content.Backfill(ctx, &created[i]); err != nil {
			s.logger.Warn("content backfill failed", "error", err)
		}
	}

	return len(created), nil
}

// RefreshAll refreshes every auto-refresh feed. One feed's failure never
// aborts its siblings, and backfill runs detached so the refresh does not
// wait on every article body.
func (s *FeedService) RefreshAll(ctx context.Context) (int, []RefreshResult) {
	var feeds []model.Feed
	if err := s.db.Where("auto_refresh = ?", true).Find(&feeds).Error; err != nil {
		s.logger.Error("failed to list feeds", "error", err)
		return 0, nil
	}

	total := 0
	results := make([]RefreshResult, 0, len(feeds))
	for i := range feeds {
		feed := &feeds[i]
		res := RefreshResult{FeedID: feed.ID, Title: feed.Title}

		created, err := s.FetchFeed(ctx, feed)
		if err != nil {
			s.logger.Warn("feed refresh failed", "url", feed.URL, "error", err)
			res.Error = err.Error()
		} else {
			res.NewArticles = len(created)
			res.Title = feed.Title
			total += len(created)

			for _, a := range created {
				article := a
				if !s.content.NeedsBackfill(&article) {
					continue
				}
				s.tasks.Go("backfill", func() error {
					return s.content.Backfill(context.Background(), &article)
				})
			}
		}

		results = append(results, res)
	}

	return total, results
}

func (s *FeedService) updateFeedMeta(feed *model.Feed, parsed *gofeed.Feed) {
	if feed.Title == "" {
		feed.Title = parsed.Title
	}
	if feed.Description == "" {
		feed.Description = parsed.Description
	}
	if feed.IconURL == "" && parsed.Image != nil {
		feed.IconURL = parsed.Image.URL
	}
	now := time.Now()
	feed.LastFetchedAt = &now

	if err := s.db.Save(feed).Error; err != nil {
		s.logger.Warn("failed to update feed metadata", "url", feed.URL, "error", err)
	}
}

// storedKeys loads the identity keys already ingested for a feed. This set
// is the sole mechanism preventing duplicates across refresh cycles.
func (s *FeedService) storedKeys(feedID uint) (map[string]bool, error) {
	var rows []model.Article
	if err := s.db.Select("guid", "link").Where("feed_id = ?", feedID).Find(&rows).Error; err != nil {
		return nil, err
	}

	keys := make(map[string]bool, len(rows))
	for i := range rows {
		keys[rows[i].IdentityKey()] = true
	}
	return keys, nil
}

func normalizeItem(feedID uint, item *gofeed.Item) *model.Article {
	if item.Title == "" && item.Link == "" {
		return nil
	}

	article := &model.Article{
		FeedID:      feedID,
		Title:       item.Title,
		Link:        item.Link,
		Description: item.Description,
		Author:      authorName(item),
		Category:    strings.Join(item.Categories, ", "),
		PubDate:     publishTime(item),
		ImageURL:    imageURL(item),
	}

	if item.Content != "" {
		content := item.Content
		article.Content = &content
	}
	if item.GUID != "" {
		guid := item.GUID
		article.GUID = &guid
	}

	return article
}

func authorName(item *gofeed.Item) string {
	if len(item.Authors) > 0 {
		return item.Authors[0].Name
	}
	if item.Author != nil {
		return item.Author.Name
	}
	return ""
}

func publishTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Now()
}

func imageURL(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}
