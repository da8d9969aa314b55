package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	readability "github.com/go-shiori/go-readability"
	"gorm.io/gorm"

	"newsbrief/internal/model"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// TaskSet supervises detached background work. Failures and panics are
// captured and logged centrally instead of disappearing in bare goroutines.
type TaskSet struct {
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewTaskSet() *TaskSet {
	return &TaskSet{logger: slog.With("component", "tasks")}
}

func (t *TaskSet) Go(name string, fn func() error) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("background task panicked", "task", name, "panic", r)
			}
		}()
		if err := fn(); err != nil {
			t.logger.Warn("background task failed", "task", name, "error", err)
		}
	}()
}

// Wait blocks until every detached task has finished.
func (t *TaskSet) Wait() {
	t.wg.Wait()
}

// ContentService backfills article bodies when the feed only supplied a
// short excerpt. Strictly best-effort: on failure the article keeps
// whatever body it had.
type ContentService struct {
	db     *gorm.DB
	client *http.Client
	minLen int
	logger *slog.Logger
}

func NewContentService(db *gorm.DB, timeout time.Duration, minLen int) *ContentService {
	return &ContentService{
		db:     db,
		client: &http.Client{Timeout: timeout},
		minLen: minLen,
		logger: slog.With("component", "content"),
	}
}

// NeedsBackfill reports whether the feed left the article without a useful
// body.
func (s *ContentService) NeedsBackfill(article *model.Article) bool {
	return len(article.BodyText()) < s.minLen
}

// Backfill fetches the article link with a browser identity and stores the
// extracted main content as the body. Callers log the returned error and
// move on; it is never a hard failure.
func (s *ContentService) Backfill(ctx context.Context, article *model.Article) error {
	if article.Link == "" || !s.NeedsBackfill(article) {
		return nil
	}

	body, err := s.fetch(ctx, article.Link)
	if err != nil {
		return fmt.Errorf("backfill %s: %w", article.Link, err)
	}
	if body == "" {
		return nil
	}

	article.Content = &body
	if err := s.db.Model(&model.Article{}).Where("id = ?", article.ID).
		Update("content", body).Error; err != nil {
		return fmt.Errorf("backfill %s: %w", article.Link, err)
	}
	return nil
}

func (s *ContentService) fetch(ctx context.Context, link string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", link, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	pageURL, err := url.Parse(link)
	if err != nil {
		return "", err
	}

	extracted, err := readability.FromReader(resp.Body, pageURL)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(extracted.TextContent), nil
}
