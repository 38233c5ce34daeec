package model

import (
	"context"
)

// StoreRole is the role vocabulary of the remote session store.
type StoreRole string

const (
	StoreRoleUser StoreRole = "USER"
	StoreRoleAI   StoreRole = "AI"
)

// TurnInput is one createOrAppendTurn call. SessionIndex is nil only for the
// first call of a session; the store then creates the session owned by UserID.
// Appends are rejected unless UserID matches the owner.
type TurnInput struct {
	Role         StoreRole    `json:"role"`
	UserID       string       `json:"userId"`
	SessionIndex *int64       `json:"sessionIndex,omitempty"`
	Content      string       `json:"content"`
	Title        string       `json:"title,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	Estimate     *Estimate    `json:"estimate,omitempty"`
}

type ChatSession struct {
	Index int64 `json:"index"`
}

// TurnOutput mirrors the store response. ChatSession is nil when the store
// did not return a session.
type TurnOutput struct {
	ChatSession *ChatSession `json:"chatSession,omitempty"`
}

// StoredTurn is a persisted turn as read back from a session store.
type StoredTurn struct {
	Role        StoreRole    `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Estimate    *Estimate    `json:"estimate,omitempty"`
	CreatedAt   string       `json:"createdAt"`
}

type SessionStore interface {
	// CreateOrAppendTurn appends a turn, creating the session when in.SessionIndex is nil.
	CreateOrAppendTurn(ctx context.Context, in TurnInput) (TurnOutput, error)

	// LoadTurns returns the persisted turns of a session in order. Sessions
	// not owned by userID are reported as not found.
	LoadTurns(ctx context.Context, index int64, userID string) ([]StoredTurn, error)
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}
