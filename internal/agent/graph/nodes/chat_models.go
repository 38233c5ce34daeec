package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"github.com/chative-estimate/server/internal/agent/model"
	logx "github.com/chative-estimate/server/pkg/logger"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	APIKey   string
	BaseURL  string
	Estimate *model.EstimateModelConfig
}

// NewEstimateChatModel creates the Gemini chat model that writes estimates.
func NewEstimateChatModel(ctx context.Context, config ChatModelConfig) (*gemini.ChatModel, error) {
	if config.Estimate == nil {
		return nil, fmt.Errorf("estimate model config is nil")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = config.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.Estimate.Model,
		Temperature: &config.Estimate.Temperature,
		MaxTokens:   &config.Estimate.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating estimate model")
		return nil, fmt.Errorf("error creating estimate model: %w", err)
	}

	return chatModel, nil
}
