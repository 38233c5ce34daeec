package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chative-estimate/server/internal/agent/graph/conversations"
	"github.com/chative-estimate/server/internal/agent/model"
	logx "github.com/chative-estimate/server/pkg/logger"
)

// Registry holds the live chats of this process.
type Registry struct {
	store      model.SessionStore
	sessionCfg model.SessionConfig

	now func() time.Time

	mu    sync.RWMutex
	chats map[string]*ChatContext
}

func NewRegistry(store model.SessionStore, sessionCfg model.SessionConfig) *Registry {
	return &Registry{
		store:      store,
		sessionCfg: sessionCfg,
		now:        time.Now,
		chats:      make(map[string]*ChatContext),
	}
}

// Create registers a new chat with its own session sequencer.
func (r *Registry) Create() *ChatContext {
	chat := NewChatContext(uuid.NewString(), conversations.NewSequencer(r.store, r.sessionCfg))
	chat.touch(r.now())

	r.mu.Lock()
	r.chats[chat.ID] = chat
	r.mu.Unlock()

	return chat
}

// Get returns the chat and records it as active.
func (r *Registry) Get(id string) (*ChatContext, bool) {
	r.mu.RLock()
	chat, ok := r.chats[id]
	r.mu.RUnlock()
	if ok {
		chat.touch(r.now())
	}
	return chat, ok
}

// Delete removes a chat and aborts its in-flight submission.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	chat, ok := r.chats[id]
	delete(r.chats, id)
	r.mu.Unlock()

	if ok {
		chat.Cancel()
	}
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chats)
}

// Sweep drops chats idle for longer than ttl. Chats with a submission in
// flight are kept.
func (r *Registry) Sweep(ttl time.Duration) int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, chat := range r.chats {
		if chat.Loading() || chat.idleFor(now) <= ttl {
			continue
		}
		delete(r.chats, id)
		evicted++
	}
	return evicted
}

// Run sweeps idle chats every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 || ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(ttl); n > 0 {
				logx.Info().Int("evicted", n).Int("live", r.Len()).Msg("evicted idle chats")
			}
		}
	}
}
