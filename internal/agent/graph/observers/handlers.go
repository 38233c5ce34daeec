package observers

import (
	einocb "github.com/cloudwego/eino/callbacks"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"
	"github.com/rs/zerolog"

	logx "github.com/chative-estimate/server/pkg/logger"
)

// NewAllCallbacks aggregates the model and prompt observers into one callbacks.Handler.
func NewAllCallbacks() einocb.Handler {
	return NewCallbacks(modelLogger(), logx.Component("prompt"))
}

// NewCallbacks is NewAllCallbacks with explicit loggers.
func NewCallbacks(modelLog, promptLog zerolog.Logger) einocb.Handler {
	return callbackHelper.NewHandlerHelper().
		ChatModel(newModelHandler(modelLog)).
		Prompt(newPromptHandler(promptLog)).
		Handler()
}
