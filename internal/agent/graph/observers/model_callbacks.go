package observers

import (
	"context"
	"errors"
	"io"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"
	"github.com/rs/zerolog"

	logx "github.com/chative-estimate/server/pkg/logger"
)

// newModelHandler builds a typed ModelCallbackHandler that logs model calls.
func newModelHandler(log zerolog.Logger) *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			ev := log.Debug().Str("type", info.Type).Str("name", info.Name)
			if input != nil {
				ev = ev.Int("messages", len(input.Messages))
				if um := lastUserContent(input.Messages); um != "" {
					ev = ev.Str("user", truncate(um, 200))
				}
			}
			ev.Msg("model start")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			logEnd(log, info, output)
			return ctx
		},
		OnEndWithStreamOutput: func(ctx context.Context, info *einocb.RunInfo, output *schema.StreamReader[*model.CallbackOutput]) context.Context {
			// the copy handed to callbacks must be drained and closed
			go func() {
				defer output.Close()
				var usage *model.TokenUsage
				chunks := 0
				for {
					frame, err := output.Recv()
					if errors.Is(err, io.EOF) {
						break
					}
					if err != nil {
						log.Warn().Err(err).Str("name", info.Name).Msg("model stream ended with error")
						return
					}
					chunks++
					if frame != nil && frame.TokenUsage != nil {
						usage = frame.TokenUsage
					}
				}
				ev := log.Debug().Str("type", info.Type).Str("name", info.Name).Int("chunks", chunks)
				if usage != nil {
					ev = ev.Int("prompt_tokens", usage.PromptTokens).
						Int("completion_tokens", usage.CompletionTokens).
						Int("total_tokens", usage.TotalTokens)
				}
				ev.Msg("model stream end")
			}()
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			log.Error().Err(err).Str("type", info.Type).Str("name", info.Name).Msg("model error")
			return ctx
		},
	}
}

func logEnd(log zerolog.Logger, info *einocb.RunInfo, output *model.CallbackOutput) {
	ev := log.Debug().Str("type", info.Type).Str("name", info.Name)
	if output != nil && output.Message != nil {
		content := strings.TrimSpace(output.Message.Content)
		if content != "" {
			ev = ev.Str("assistant", truncate(content, 200))
		}
	}
	ev.Msg("model end")
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil {
			continue
		}
		if m.Role != schema.User {
			continue
		}
		if c := strings.TrimSpace(m.Content); c != "" {
			return c
		}
		for j := len(m.MultiContent) - 1; j >= 0; j-- {
			if m.MultiContent[j].Type == schema.ChatMessagePartTypeText {
				return strings.TrimSpace(m.MultiContent[j].Text)
			}
		}
		return ""
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func modelLogger() zerolog.Logger {
	return logx.Component("model")
}
