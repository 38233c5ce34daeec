package conversations

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"github.com/chative-estimate/server/internal/agent/model"
)

type recordingStore struct {
	mu      sync.Mutex
	calls   []model.TurnInput
	respond func(n int, in model.TurnInput) (model.TurnOutput, error)
}

func (r *recordingStore) CreateOrAppendTurn(_ context.Context, in model.TurnInput) (model.TurnOutput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, in)
	return r.respond(len(r.calls), in)
}

func (r *recordingStore) LoadTurns(context.Context, int64, string) ([]model.StoredTurn, error) {
	return nil, nil
}

func fixedSession(index int64) func(int, model.TurnInput) (model.TurnOutput, error) {
	return func(int, model.TurnInput) (model.TurnOutput, error) {
		return model.TurnOutput{ChatSession: &model.ChatSession{Index: index}}, nil
	}
}

func newSequencer(store model.SessionStore) *Sequencer {
	return NewSequencer(store, model.SessionConfig{TitleMaxRunes: 40})
}

func TestSequencer_FirstTurnBindsSession(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{respond: fixedSession(7)}
	seq := newSequencer(store)
	require.Equal(t, NoSession, seq.State())

	id, err := seq.PersistUserTurn(ctx, "user-1", "Build me a shop", nil)
	require.NoError(t, err)
	require.Equal(t, int64(7), id)
	require.Equal(t, Active, seq.State())

	seq.PersistAssistantTurn(ctx, "Sure.", &model.Estimate{Project: "Shop"})
	id, err = seq.PersistUserTurn(ctx, "user-1", "Add a blog", nil)
	require.NoError(t, err)
	require.Equal(t, int64(7), id)

	require.Len(t, store.calls, 3)
	require.Nil(t, store.calls[0].SessionIndex)
	require.Equal(t, "Build me a shop", store.calls[0].Title)
	for _, c := range store.calls {
		require.Equal(t, "user-1", c.UserID)
	}
	for _, c := range store.calls[1:] {
		require.NotNil(t, c.SessionIndex)
		require.Equal(t, int64(7), *c.SessionIndex)
		require.Empty(t, c.Title)
	}
	require.Equal(t, model.StoreRoleAI, store.calls[1].Role)
	require.Equal(t, "Shop", store.calls[1].Estimate.Project)
}

func TestSequencer_FirstTurnWithoutSessionIsFatal(t *testing.T) {
	cases := map[string]func(int, model.TurnInput) (model.TurnOutput, error){
		"store error": func(int, model.TurnInput) (model.TurnOutput, error) {
			return model.TurnOutput{}, errors.New("boom")
		},
		"missing session": func(int, model.TurnInput) (model.TurnOutput, error) {
			return model.TurnOutput{}, nil
		},
	}
	for name, respond := range cases {
		t.Run(name, func(t *testing.T) {
			seq := newSequencer(&recordingStore{respond: respond})

			_, err := seq.PersistUserTurn(context.Background(), "user-1", "hi", nil)
			require.ErrorIs(t, err, ErrSessionNotCreated)
			require.Equal(t, NoSession, seq.State())
			_, ok := seq.SessionID()
			require.False(t, ok)
		})
	}
}

func TestSequencer_LaterFailureKeepsSession(t *testing.T) {
	store := &recordingStore{respond: func(n int, _ model.TurnInput) (model.TurnOutput, error) {
		if n == 1 {
			return model.TurnOutput{ChatSession: &model.ChatSession{Index: 3}}, nil
		}
		return model.TurnOutput{}, errors.New("unavailable")
	}}
	seq := newSequencer(store)
	ctx := context.Background()

	_, err := seq.PersistUserTurn(ctx, "user-1", "one", nil)
	require.NoError(t, err)

	id, err := seq.PersistUserTurn(ctx, "user-1", "two", nil)
	require.NoError(t, err)
	require.Equal(t, int64(3), id)
	require.Equal(t, Active, seq.State())

	// assistant failures are swallowed
	seq.PersistAssistantTurn(ctx, "reply", nil)
	require.Equal(t, Active, seq.State())
}

func TestSequencer_RetryAfterFailedCreation(t *testing.T) {
	store := &recordingStore{respond: func(n int, _ model.TurnInput) (model.TurnOutput, error) {
		if n == 1 {
			return model.TurnOutput{}, errors.New("boom")
		}
		return model.TurnOutput{ChatSession: &model.ChatSession{Index: 11}}, nil
	}}
	seq := newSequencer(store)
	ctx := context.Background()

	_, err := seq.PersistUserTurn(ctx, "user-1", "first", nil)
	require.Error(t, err)

	id, err := seq.PersistUserTurn(ctx, "user-1", "first again", nil)
	require.NoError(t, err)
	require.Equal(t, int64(11), id)
	require.Nil(t, store.calls[1].SessionIndex)
}

func TestSequencer_AssistantTurnWithoutSessionIsSkipped(t *testing.T) {
	store := &recordingStore{respond: fixedSession(1)}
	seq := newSequencer(store)

	seq.PersistAssistantTurn(context.Background(), "orphan", nil)
	require.Empty(t, store.calls)
}

func TestSequencer_Reset(t *testing.T) {
	store := &recordingStore{respond: func(n int, _ model.TurnInput) (model.TurnOutput, error) {
		return model.TurnOutput{ChatSession: &model.ChatSession{Index: int64(n)}}, nil
	}}
	seq := newSequencer(store)
	ctx := context.Background()

	id, err := seq.PersistUserTurn(ctx, "user-1", "a", nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	seq.Reset()
	require.Equal(t, NoSession, seq.State())

	id, err = seq.PersistUserTurn(ctx, "user-1", "b", nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), id)
	require.Nil(t, store.calls[1].SessionIndex)
}

func TestSequencer_DifferentUserStartsNewSession(t *testing.T) {
	store := &recordingStore{respond: func(n int, _ model.TurnInput) (model.TurnOutput, error) {
		return model.TurnOutput{ChatSession: &model.ChatSession{Index: int64(n)}}, nil
	}}
	seq := newSequencer(store)
	ctx := context.Background()

	id, err := seq.PersistUserTurn(ctx, "user-1", "mine", nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	id, err = seq.PersistUserTurn(ctx, "user-2", "theirs", nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), id)
	require.Nil(t, store.calls[1].SessionIndex)
	require.Equal(t, "user-2", store.calls[1].UserID)

	seq.PersistAssistantTurn(ctx, "reply", nil)
	require.Equal(t, "user-2", store.calls[2].UserID)
	require.Equal(t, int64(2), *store.calls[2].SessionIndex)
}

func TestSequencer_StateReadableDuringStoreCall(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	store := &recordingStore{respond: func(int, model.TurnInput) (model.TurnOutput, error) {
		close(entered)
		<-release
		return model.TurnOutput{ChatSession: &model.ChatSession{Index: 5}}, nil
	}}
	seq := newSequencer(store)

	done := make(chan error, 1)
	go func() {
		_, err := seq.PersistUserTurn(context.Background(), "user-1", "hi", nil)
		done <- err
	}()
	<-entered

	require.Equal(t, Creating, seq.State())
	_, ok := seq.SessionID()
	require.False(t, ok)

	close(release)
	require.NoError(t, <-done)
	id, ok := seq.SessionID()
	require.True(t, ok)
	require.Equal(t, int64(5), id)
}

func TestTitle(t *testing.T) {
	require.Equal(t, "hello world", Title("  hello \n world ", 40))
	require.Equal(t, "웹사이트", Title("웹사이트 견적", 4))
	require.Equal(t, "abc", Title("abc", 0))
}

func TestHistory(t *testing.T) {
	turns := []model.Turn{
		{ID: 1, Role: model.RoleUser, Text: "q1"},
		{ID: 2, Role: model.RoleAssistant, Text: "a1"},
		{ID: 3, Role: model.RoleUser, Text: "q2"},
		{ID: 4, Role: model.RoleAssistant, Text: ""},
	}

	msgs := History(turns, 2)
	require.Len(t, msgs, 2)
	require.Equal(t, schema.Assistant, msgs[0].Role)
	require.Equal(t, "a1", msgs[0].Content)
	require.Equal(t, schema.User, msgs[1].Role)
	require.Equal(t, "q2", msgs[1].Content)

	require.Len(t, History(turns, 10), 3)
	require.Empty(t, History(turns, 0))
}
