package model

import "time"

// ================ Config ================
type GeminiConfig struct {
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`
}

type EstimateModelConfig struct {
	Model       string  `envconfig:"ESTIMATE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"ESTIMATE_MAX_TOKENS" default:"8192"`
	Temperature float32 `envconfig:"ESTIMATE_TEMPERATURE" default:"0.4"`
}

type EstimatePromptConfig struct {
	BusinessName string `envconfig:"PROMPT_BUSINESS_NAME" default:"Studio"`
	Currency     string `envconfig:"PROMPT_CURRENCY" default:"KRW"`
	QuoteOnAsk   string `envconfig:"PROMPT_QUOTE_ON_REQUEST" default:"별도 문의"`
}

type ChatConfig struct {
	AnonymousCallLimit int           `envconfig:"CHAT_ANONYMOUS_CALL_LIMIT" default:"3"`
	ReadyRetryInterval time.Duration `envconfig:"CHAT_READY_RETRY_INTERVAL" default:"500ms"`
	ReadyMaxAttempts   int           `envconfig:"CHAT_READY_MAX_ATTEMPTS" default:"20"`
	MaxHistoryTurns    int           `envconfig:"CHAT_MAX_HISTORY_TURNS" default:"10"`
	StreamErrorNotice  string        `envconfig:"CHAT_STREAM_ERROR_NOTICE" default:"⚠️ The response was interrupted. Please try again."`
	IdleTTL            time.Duration `envconfig:"CHAT_IDLE_TTL" default:"2h"`
	SweepInterval      time.Duration `envconfig:"CHAT_SWEEP_INTERVAL" default:"5m"`
}

type SessionConfig struct {
	Backend       string        `envconfig:"SESSION_BACKEND" default:"redis"`
	TTL           time.Duration `envconfig:"SESSION_TTL" default:"720h"`
	TitleMaxRunes int           `envconfig:"SESSION_TITLE_MAX_RUNES" default:"40"`
	DynamoTable   string        `envconfig:"SESSION_DYNAMO_TABLE"`
	QuotaTTL      time.Duration `envconfig:"QUOTA_TTL" default:"720h"`
}
