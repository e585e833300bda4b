package models

import "encoding/json"

// SystemConfig keys
const (
	ConfigKeyAI          = "ai_config"
	ConfigKeyEventPrefix = "event:"
)

// SuggestionMode controls what happens to suggestion-service output.
type SuggestionMode string

const (
	SuggestionOff       SuggestionMode = "off"
	SuggestionSuggest   SuggestionMode = "suggest"
	SuggestionAutoReply SuggestionMode = "auto_reply"
)

// SystemConfig is an opaque JSON value keyed by configKey.
type SystemConfig struct {
	ConfigKey string          `json:"configKey"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt int64           `json:"updatedAt"`
}

// AIConfig is stored under ai_config.
type AIConfig struct {
	Mode      SuggestionMode    `json:"mode"`
	Language  string            `json:"language,omitempty"`
	Prompts   map[string]string `json:"prompts,omitempty"`
	Fallbacks map[string]string `json:"fallbacks,omitempty"`
}
