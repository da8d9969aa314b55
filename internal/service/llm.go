package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"

	"newsbrief/internal/model"
)

// LLMService talks to an OpenAI-compatible chat API. Provider settings and
// prompt templates live in the Config table so they can be edited at
// runtime through the settings API.
type LLMService struct {
	db              *gorm.DB
	client          *http.Client
	retryMaxElapsed time.Duration
	logger          *slog.Logger
}

type LLMConfig struct {
	Provider string
	ApiURL   string
	ApiKey   string
	Model    string
}

type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

type ModelsResponse struct {
	Data []struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}

// ScoreResult is the classifier verdict for one (profile, article) pair.
// Missing response fields stay at their zero values, which reads as
// not-relevant.
type ScoreResult struct {
	Relevant bool   `json:"relevant"`
	Score    int    `json:"score"`
	Reason   string `json:"reason"`
}

// PreferenceContext is one entry of a user's feedback history handed to
// profile evolution.
type PreferenceContext struct {
	Title       string
	Liked       bool
	Explanation string
}

type summaryResult struct {
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
}

func NewLLMService(db *gorm.DB, timeout, retryMaxElapsed time.Duration) *LLMService {
	return &LLMService{
		db:              db,
		client:          &http.Client{Timeout: timeout},
		retryMaxElapsed: retryMaxElapsed,
		logger:          slog.With("component", "llm"),
	}
}

// GetConfig reads the provider settings from the Config table.
func (s *LLMService) GetConfig() (*LLMConfig, error) {
	configs := make(map[string]string)
	var items []model.Config
	if err := s.db.Find(&items).Error; err != nil {
		return nil, err
	}

	for _, item := range items {
		configs[item.Key] = item.Value
	}

	return &LLMConfig{
		Provider: configs[model.ConfigLLMProvider],
		ApiURL:   configs[model.ConfigLLMApiURL],
		ApiKey:   configs[model.ConfigLLMApiKey],
		Model:    configs[model.ConfigLLMModel],
	}, nil
}

// Chat sends one system+user exchange, retrying transient transport and
// 429/5xx failures with exponential backoff until the retry budget runs
// out.
func (s *LLMService) Chat(ctx context.Context, prompt, content string) (string, error) {
	cfg, err := s.GetConfig()
	if err != nil {
		return "", err
	}

	messages := []Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: content},
	}

	var out string
	op := func() error {
		resp, err := s.doChat(ctx, cfg, messages)
		if err != nil {
			return err
		}
		out = resp
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = s.retryMaxElapsed
	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		return "", err
	}
	return out, nil
}

func (s *LLMService) doChat(ctx context.Context, cfg *LLMConfig, messages []Message) (string, error) {
	reqBody := ChatRequest{Model: cfg.Model, Messages: messages}
	jsonBody, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, "POST",
		cfg.ApiURL+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", backoff.Permanent(err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.ApiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", fmt.Errorf("LLM API returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", backoff.Permanent(fmt.Errorf("LLM API returned %d: %s", resp.StatusCode, string(body)))
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", backoff.Permanent(fmt.Errorf("unparsable LLM response: %w", err))
	}

	if len(chatResp.Choices) == 0 {
		return "", backoff.Permanent(fmt.Errorf("no response from LLM"))
	}

	return chatResp.Choices[0].Message.Content, nil
}

// GetPrompt reads a prompt template from the Config table.
func (s *LLMService) GetPrompt(key string) string {
	var config model.Config
	s.db.Where("key = ?", key).First(&config)
	return config.Value
}

// Summarize produces a digest and keyword set for one article. A transport
// or parse failure is an error; an empty digest is a valid result.
func (s *LLMService) Summarize(ctx context.Context, title, text string) (string, []string, error) {
	raw, err := s.Chat(ctx, s.GetPrompt(model.ConfigPromptSummary),
		"Title: "+title+"\n\n"+text)
	if err != nil {
		return "", nil, err
	}

	var res summaryResult
	if err := json.Unmarshal(jsonBlock(raw), &res); err != nil {
		return "", nil, fmt.Errorf("unparsable summarizer response: %w", err)
	}

	return strings.TrimSpace(res.Summary), res.Keywords, nil
}

// ScoreRelevance asks the classifier how well an article matches a
// reader's interest profile.
func (s *LLMService) ScoreRelevance(ctx context.Context, profile, title, digest string, keywords []string) (ScoreResult, error) {
	content := scorePayload(profile, title, digest, keywords)
	return s.score(ctx, s.GetPrompt(model.ConfigPromptScore), content)
}

// ScoreWithFeedback rescores an article with the reader's explicit verdict
// folded into the prompt, so the rationale can account for the shift.
func (s *LLMService) ScoreWithFeedback(ctx context.Context, profile, title, digest string, keywords []string, liked bool, explanation string, priorScore *int) (ScoreResult, error) {
	var b strings.Builder
	b.WriteString(scorePayload(profile, title, digest, keywords))

	verdict := "disliked"
	if liked {
		verdict = "liked"
	}
	fmt.Fprintf(&b, "\nReader verdict: %s this article", verdict)
	if explanation != "" {
		fmt.Fprintf(&b, " (%q)", explanation)
	}
	if priorScore != nil {
		fmt.Fprintf(&b, "\nPrevious relevance score: %d", *priorScore)
	}

	return s.score(ctx, s.GetPrompt(model.ConfigPromptFeedbackScore), b.String())
}

func (s *LLMService) score(ctx context.Context, prompt, content string) (ScoreResult, error) {
	raw, err := s.Chat(ctx, prompt, content)
	if err != nil {
		return ScoreResult{}, err
	}

	var res ScoreResult
	if err := json.Unmarshal(jsonBlock(raw), &res); err != nil {
		return ScoreResult{}, fmt.Errorf("unparsable classifier response: %w", err)
	}
	return res, nil
}

// EvolveProfile rewrites a reader's interest description from their full
// feedback history.
func (s *LLMService) EvolveProfile(ctx context.Context, current string, history []PreferenceContext) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Current interest profile:\n%s\n\nFeedback history:\n", current)
	for _, p := range history {
		verdict := "disliked"
		if p.Liked {
			verdict = "liked"
		}
		fmt.Fprintf(&b, "- %s %q", verdict, p.Title)
		if p.Explanation != "" {
			fmt.Fprintf(&b, ": %s", p.Explanation)
		}
		b.WriteString("\n")
	}

	raw, err := s.Chat(ctx, s.GetPrompt(model.ConfigPromptProfile), b.String())
	if err != nil {
		return "", err
	}

	updated := strings.TrimSpace(raw)
	if updated == "" {
		return "", fmt.Errorf("empty profile from LLM")
	}
	return updated, nil
}

// GetModels lists the models available from the configured provider.
func (s *LLMService) GetModels(ctx context.Context) ([]string, error) {
	cfg, err := s.GetConfig()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", cfg.ApiURL+"/models", nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+cfg.ApiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)

	var modelsResp ModelsResponse
	if err := json.Unmarshal(body, &modelsResp); err != nil {
		return nil, fmt.Errorf("unparsable models response: %w", err)
	}

	models := make([]string, 0, len(modelsResp.Data))
	for _, m := range modelsResp.Data {
		models = append(models, m.ID)
	}

	return models, nil
}

// TestConnection verifies the configured provider answers a trivial chat.
func (s *LLMService) TestConnection(ctx context.Context) (string, error) {
	cfg, err := s.GetConfig()
	if err != nil {
		return "", err
	}

	if cfg.ApiURL == "" {
		return "", fmt.Errorf("API URL not configured")
	}
	if cfg.ApiKey == "" {
		return "", fmt.Errorf("API key not configured")
	}
	if cfg.Model == "" {
		return "", fmt.Errorf("model not configured")
	}

	return s.doChat(ctx, cfg, []Message{{Role: "user", Content: "Hi"}})
}

func scorePayload(profile, title, digest string, keywords []string) string {
	return fmt.Sprintf("Reader interests:\n%s\n\nArticle title: %s\nArticle summary: %s\nKeywords: %s",
		profile, title, digest, strings.Join(keywords, ", "))
}

// jsonBlock pulls the outermost JSON object out of a model response that
// may be wrapped in prose or code fences.
func jsonBlock(s string) []byte {
	i := strings.Index(s, "{")
	j := strings.LastIndex(s, "}")
	if i >= 0 && j > i {
		return []byte(s[i : j+1])
	}
	return []byte(s)
}
