package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/chative-estimate/server/internal/agent/model"
)

//go:embed template/estimate_prompt.txt
var estimateSystemPrompt string

const (
	keySystem  = "system_messages"
	keyHistory = "history"
	keyInput   = "user_input"
)

// RenderEstimateSystem fills the business placeholders of the system prompt.
// Only known tokens are replaced so the JSON braces in the template survive.
func RenderEstimateSystem(config model.EstimatePromptConfig) string {
	return strings.NewReplacer(
		"{business_name}", config.BusinessName,
		"{currency}", config.Currency,
		"{quote_on_request}", config.QuoteOnAsk,
	).Replace(estimateSystemPrompt)
}

// FormatEstimateMessages assembles system prompt, history and the new user
// message through an Eino prompt template so prompt callbacks fire.
func FormatEstimateMessages(ctx context.Context, config model.EstimatePromptConfig, history []*schema.Message, user *schema.Message) ([]*schema.Message, error) {
	if user == nil {
		return nil, fmt.Errorf("estimate prompt: user message is nil")
	}

	tpl := prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder(keySystem, false),
		schema.MessagesPlaceholder(keyHistory, true),
		schema.MessagesPlaceholder(keyInput, false),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		keySystem:  []*schema.Message{schema.SystemMessage(RenderEstimateSystem(config))},
		keyHistory: history,
		keyInput:   []*schema.Message{user},
	})
	if err != nil {
		return nil, fmt.Errorf("estimate prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return nil, fmt.Errorf("estimate prompt render: empty result")
	}
	return msgs, nil
}
