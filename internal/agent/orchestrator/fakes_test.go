package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cloudwego/eino/schema"

	"github.com/chative-estimate/server/internal/agent/model"
)

type fakeBackend struct {
	readyAfter int32
	polls      atomic.Int32
	open       func(ctx context.Context, req model.EstimateRequest) (*schema.StreamReader[*schema.Message], error)

	mu   sync.Mutex
	reqs []model.EstimateRequest
}

func (f *fakeBackend) Ready() bool {
	return f.polls.Add(1) > f.readyAfter
}

func (f *fakeBackend) ModelName() string { return "gemini-2.5-flash" }

func (f *fakeBackend) Stream(ctx context.Context, req model.EstimateRequest) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.open(ctx, req)
}

func (f *fakeBackend) requests() []model.EstimateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.EstimateRequest(nil), f.reqs...)
}

func chunks(parts ...string) func(context.Context, model.EstimateRequest) (*schema.StreamReader[*schema.Message], error) {
	return func(context.Context, model.EstimateRequest) (*schema.StreamReader[*schema.Message], error) {
		msgs := make([]*schema.Message, 0, len(parts))
		for _, p := range parts {
			msgs = append(msgs, schema.AssistantMessage(p, nil))
		}
		return schema.StreamReaderFromArray(msgs), nil
	}
}

// chunksThenError delivers parts and then fails the stream with err.
func chunksThenError(err error, parts ...string) func(context.Context, model.EstimateRequest) (*schema.StreamReader[*schema.Message], error) {
	return func(context.Context, model.EstimateRequest) (*schema.StreamReader[*schema.Message], error) {
		sr, sw := schema.Pipe[*schema.Message](len(parts) + 1)
		go func() {
			defer sw.Close()
			for _, p := range parts {
				sw.Send(schema.AssistantMessage(p, nil), nil)
			}
			sw.Send(nil, err)
		}()
		return sr, nil
	}
}

type memQuota struct {
	mu     sync.Mutex
	counts map[string]int
}

func newMemQuota() *memQuota {
	return &memQuota{counts: map[string]int{}}
}

func (m *memQuota) Load(_ context.Context, clientID string) (model.QuotaState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.counts[clientID]
	return model.QuotaState{Remaining: n, Initialized: ok}, nil
}

func (m *memQuota) Init(ctx context.Context, clientID string, limit int) (model.QuotaState, error) {
	m.mu.Lock()
	if _, ok := m.counts[clientID]; !ok {
		m.counts[clientID] = limit
	}
	m.mu.Unlock()
	return m.Load(ctx, clientID)
}

func (m *memQuota) Decrement(ctx context.Context, clientID string) (model.QuotaState, error) {
	m.mu.Lock()
	if n, ok := m.counts[clientID]; ok && n > 0 {
		m.counts[clientID] = n - 1
	}
	m.mu.Unlock()
	return m.Load(ctx, clientID)
}

type memSessions struct {
	mu    sync.Mutex
	calls []model.TurnInput
	index int64
	fail  bool
}

func (m *memSessions) CreateOrAppendTurn(_ context.Context, in model.TurnInput) (model.TurnOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, in)
	if m.fail {
		return model.TurnOutput{}, nil
	}
	return model.TurnOutput{ChatSession: &model.ChatSession{Index: m.index}}, nil
}

func (m *memSessions) LoadTurns(context.Context, int64, string) ([]model.StoredTurn, error) {
	return nil, nil
}

func (m *memSessions) inputs() []model.TurnInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.TurnInput(nil), m.calls...)
}

type recorder struct {
	mu      sync.Mutex
	events  []Event
	onEvent func(Event)
}

func (r *recorder) emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	hook := r.onEvent
	r.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recorder) last(kind EventKind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return Event{}, false
}
