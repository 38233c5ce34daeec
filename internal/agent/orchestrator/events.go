package orchestrator

import (
	"github.com/chative-estimate/server/internal/agent/ledger"
	"github.com/chative-estimate/server/internal/agent/model"
)

// EventKind names a discrete state transition of a chat during a submission.
type EventKind string

const (
	EventTurnAppended    EventKind = "turn-appended"
	EventChunkApplied    EventKind = "chunk-applied"
	EventArtifactSeeded  EventKind = "artifact-seeded"
	EventTurnPersisted   EventKind = "turn-persisted"
	EventErrorAppended   EventKind = "error-appended"
	EventTurnsRolledBack EventKind = "turns-rolled-back"
	EventLoginRequired   EventKind = "login-required"
	EventCompleted       EventKind = "completed"
)

// Event is emitted to the renderer. Turn is a copy and safe to retain.
type Event struct {
	Kind         EventKind         `json:"kind"`
	ChatID       string            `json:"chatId"`
	Turn         *model.Turn       `json:"turn,omitempty"`
	TurnIDs      []int64           `json:"turnIds,omitempty"`
	SessionIndex int64             `json:"sessionIndex,omitempty"`
	Ledger       *ledger.View      `json:"ledger,omitempty"`
	Quota        *model.QuotaState `json:"quota,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Emitter receives events in order. It is called from the submitting goroutine.
type Emitter func(Event)

func (e Emitter) emit(ev Event) {
	if e != nil {
		e(ev)
	}
}
