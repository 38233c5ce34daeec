package model

import "context"

// QuotaState tracks the remaining anonymous backend calls for one client.
type QuotaState struct {
	Remaining   int  `json:"remaining"`
	Initialized bool `json:"initialized"`
}

// Exhausted reports whether further anonymous submissions must be blocked.
func (q QuotaState) Exhausted() bool {
	return q.Initialized && q.Remaining <= 0
}

type QuotaStore interface {
	Load(ctx context.Context, clientID string) (QuotaState, error)
	// Init sets the counter to limit unless it already exists.
	Init(ctx context.Context, clientID string, limit int) (QuotaState, error)
	// Decrement lowers the counter by one, never below zero.
	Decrement(ctx context.Context, clientID string) (QuotaState, error)
}

// Identity describes who is submitting. A non-empty UserID means the caller
// is authenticated; anonymous callers are tracked by ClientID.
type Identity struct {
	UserID   string
	ClientID string
}

func (i Identity) Authenticated() bool {
	return i.UserID != ""
}
