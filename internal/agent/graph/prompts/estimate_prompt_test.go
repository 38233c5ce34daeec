package prompts

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"github.com/chative-estimate/server/internal/agent/model"
)

var testPromptConfig = model.EstimatePromptConfig{
	BusinessName: "Acme Studio",
	Currency:     "KRW",
	QuoteOnAsk:   "별도 문의",
}

func TestRenderEstimateSystem(t *testing.T) {
	out := RenderEstimateSystem(testPromptConfig)

	require.Contains(t, out, "Acme Studio")
	require.Contains(t, out, `"별도 문의"`)
	require.Contains(t, out, "```json")
	require.NotContains(t, out, "{business_name}")
	require.NotContains(t, out, "{currency}")
}

func TestFormatEstimateMessages(t *testing.T) {
	history := []*schema.Message{
		schema.UserMessage("I want a shop"),
		schema.AssistantMessage(`Sure {"project":"Shop"}`, nil),
	}
	user := schema.UserMessage("Add a blog")

	msgs, err := FormatEstimateMessages(context.Background(), testPromptConfig, history, user)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	require.Equal(t, schema.System, msgs[0].Role)
	require.Equal(t, `Sure {"project":"Shop"}`, msgs[2].Content)
	require.Equal(t, "Add a blog", msgs[3].Content)

	msgs, err = FormatEstimateMessages(context.Background(), testPromptConfig, nil, user)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	_, err = FormatEstimateMessages(context.Background(), testPromptConfig, nil, nil)
	require.Error(t, err)
}
