package model

import "time"

type Config struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"size:100;uniqueIndex;not null"`
	Value     string    `gorm:"type:text"`
	UpdatedAt time.Time
}

// Predefined configuration keys.
const (
	ConfigLLMProvider         = "llm_provider"
	ConfigLLMApiURL           = "llm_api_url"
	ConfigLLMApiKey           = "llm_api_key"
	ConfigLLMModel            = "llm_model"
	ConfigPromptSummary       = "prompt_summary"
	ConfigPromptScore         = "prompt_score"
	ConfigPromptFeedbackScore = "prompt_feedback_score"
	ConfigPromptProfile       = "prompt_profile"
)
