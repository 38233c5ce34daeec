package graph

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/chative-estimate/server/internal/agent/graph/nodes"
	"github.com/chative-estimate/server/internal/agent/graph/observers"
	"github.com/chative-estimate/server/internal/agent/model"
	logx "github.com/chative-estimate/server/pkg/logger"
)

// ErrNotReady is returned by Stream before the model has been initialised.
var ErrNotReady = errors.New("estimate backend is not ready")

// Config holds everything needed to compose the estimate graph end-to-end.
type Config struct {
	Gemini model.GeminiConfig
	Model  model.EstimateModelConfig
	Prompt model.EstimatePromptConfig
}

// GraphConfig holds all configuration needed to build the graph
type GraphConfig struct {
	ChatModel einomodel.BaseChatModel
	Prompt    model.EstimatePromptConfig
}

// Backend streams estimate responses. The underlying model is created
// lazily; Ready reports whether Stream can be called.
type Backend struct {
	modelName string
	runnable  atomic.Pointer[compose.Runnable[model.EstimateRequest, *schema.Message]]
}

// NewBackend starts building the graph in the background and returns at once.
func NewBackend(ctx context.Context, cfg Config) *Backend {
	b := &Backend{modelName: cfg.Model.Model}
	go func() {
		cm, err := nodes.NewEstimateChatModel(ctx, nodes.ChatModelConfig{
			APIKey:   cfg.Gemini.APIKey,
			BaseURL:  cfg.Gemini.BaseURL,
			Estimate: &cfg.Model,
		})
		if err != nil {
			logx.Error().Err(err).Msg("estimate backend unavailable")
			return
		}
		r, err := BuildGraph(ctx, &GraphConfig{ChatModel: cm, Prompt: cfg.Prompt})
		if err != nil {
			logx.Error().Err(err).Msg("estimate backend unavailable")
			return
		}
		b.runnable.Store(&r)
		logx.Info().Str("model", b.modelName).Msg("estimate backend ready")
	}()
	return b
}

// NewBackendWithModel builds the graph synchronously around an existing chat model.
func NewBackendWithModel(ctx context.Context, modelName string, cm einomodel.BaseChatModel, promptCfg model.EstimatePromptConfig) (*Backend, error) {
	r, err := BuildGraph(ctx, &GraphConfig{ChatModel: cm, Prompt: promptCfg})
	if err != nil {
		return nil, err
	}
	b := &Backend{modelName: modelName}
	b.runnable.Store(&r)
	return b, nil
}

func (b *Backend) Ready() bool {
	return b.runnable.Load() != nil
}

func (b *Backend) ModelName() string {
	return b.modelName
}

// Stream opens a response stream for req. The caller owns the reader and must close it.
func (b *Backend) Stream(ctx context.Context, req model.EstimateRequest) (*schema.StreamReader[*schema.Message], error) {
	r := b.runnable.Load()
	if r == nil {
		return nil, ErrNotReady
	}
	return (*r).Stream(ctx, req, compose.WithCallbacks(observers.NewAllCallbacks()))
}

// BuildGraph constructs and returns the compiled estimate graph
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.EstimateRequest, *schema.Message], error) {
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.ChatModel == nil {
		return nil, fmt.Errorf("chat model is not initialized")
	}

	g := compose.NewGraph[model.EstimateRequest, *schema.Message]()

	if err := g.AddLambdaNode(nodes.NodeRequestConverter, nodes.NewRequestConverterNode(config.Prompt)); err != nil {
		return nil, fmt.Errorf("add %s: %w", nodes.NodeRequestConverter, err)
	}
	if err := g.AddChatModelNode(nodes.NodeEstimateChatModel, config.ChatModel); err != nil {
		return nil, fmt.Errorf("add %s: %w", nodes.NodeEstimateChatModel, err)
	}

	edges := [][2]string{
		{compose.START, nodes.NodeRequestConverter},
		{nodes.NodeRequestConverter, nodes.NodeEstimateChatModel},
		{nodes.NodeEstimateChatModel, compose.END},
	}
	for _, edge := range edges {
		if err := g.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runnable, err := g.Compile(ctx, compose.WithGraphName("estimate"))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}
