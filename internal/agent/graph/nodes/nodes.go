package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/chative-estimate/server/internal/agent/graph/prompts"
	"github.com/chative-estimate/server/internal/agent/model"
)

const (
	NodeRequestConverter  = "request_converter"
	NodeEstimateChatModel = "estimate_chat_model"
)

// NewRequestConverterNode turns an EstimateRequest into the message list sent
// to the estimate model.
func NewRequestConverterNode(promptCfg model.EstimatePromptConfig) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, req model.EstimateRequest) ([]*schema.Message, error) {
		user, err := BuildUserMessage(req)
		if err != nil {
			return nil, err
		}
		msgs, err := prompts.FormatEstimateMessages(ctx, promptCfg, req.History, user)
		if err != nil {
			return nil, fmt.Errorf("render estimate prompt: %w", err)
		}
		return msgs, nil
	})
}

// BuildUserMessage lays out the request parts as one multi-part user message.
// Empty text parts are dropped; attachments without a URI are skipped.
func BuildUserMessage(req model.EstimateRequest) (*schema.Message, error) {
	var parts []schema.ChatMessagePart
	for _, text := range []string{req.SelectionSummary, req.LedgerSnapshot, req.Prompt} {
		if strings.TrimSpace(text) == "" {
			continue
		}
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeText,
			Text: text,
		})
	}
	for _, a := range req.Attachments {
		if a.URI == "" {
			continue
		}
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeFileURL,
			FileURL: &schema.ChatMessageFileURL{
				URI:      a.URI,
				MIMEType: a.MIMEType,
				Name:     a.Name,
			},
		})
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("estimate request has no content")
	}

	return &schema.Message{
		Role:         schema.User,
		MultiContent: parts,
	}, nil
}
