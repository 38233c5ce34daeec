package conversations

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/chative-estimate/server/internal/agent/model"
	errx "github.com/chative-estimate/server/internal/core/error"
	logx "github.com/chative-estimate/server/pkg/logger"
)

// State is the lifecycle of the remote session bound to one chat.
type State int

const (
	NoSession State = iota
	Creating
	Active
)

func (s State) String() string {
	switch s {
	case NoSession:
		return "no_session"
	case Creating:
		return "creating"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrSessionNotCreated is returned when the first user turn of a chat was not
// given a session identifier by the store.
var ErrSessionNotCreated = errx.New(errors.New("session store returned no session"), http.StatusBadGateway, "could not start a chat session")

// Sequencer creates the remote session on the first user turn and reuses its
// identifier for every later turn of the same chat.
type Sequencer struct {
	store         model.SessionStore
	titleMaxRunes int

	// callMu serialises store calls so at most one creation is ever in flight.
	callMu sync.Mutex

	// mu guards the binding only and is never held across a store call.
	mu        sync.RWMutex
	state     State
	sessionID int64
	owner     string
}

func NewSequencer(store model.SessionStore, cfg model.SessionConfig) *Sequencer {
	return &Sequencer{
		store:         store,
		titleMaxRunes: cfg.TitleMaxRunes,
	}
}

func (s *Sequencer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SessionID returns the bound session identifier and whether one exists.
func (s *Sequencer) SessionID() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID, s.state == Active
}

// Reset forgets the session so the next user turn creates a new one.
func (s *Sequencer) Reset() {
	s.callMu.Lock()
	defer s.callMu.Unlock()
	s.bind(NoSession, 0, "")
}

func (s *Sequencer) bind(state State, sessionID int64, owner string) {
	s.mu.Lock()
	s.state = state
	s.sessionID = sessionID
	s.owner = owner
	s.mu.Unlock()
}

func (s *Sequencer) binding() (State, int64, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.sessionID, s.owner
}

// PersistUserTurn stores a user turn on behalf of userID and returns the
// session identifier. A session is owned by the user who created it; a turn
// from a different user starts a new session.
func (s *Sequencer) PersistUserTurn(ctx context.Context, userID, text string, attachments []model.Attachment) (int64, error) {
	s.callMu.Lock()
	defer s.callMu.Unlock()

	in := model.TurnInput{
		Role:        model.StoreRoleUser,
		UserID:      userID,
		Content:     text,
		Attachments: attachments,
	}

	state, sessionID, owner := s.binding()
	first := state != Active || owner != userID
	if first {
		s.bind(Creating, 0, "")
		in.Title = Title(text, s.titleMaxRunes)
	} else {
		in.SessionIndex = model.Int64Ptr(sessionID)
	}

	out, err := s.store.CreateOrAppendTurn(ctx, in)
	if err == nil && out.ChatSession == nil {
		err = errors.New("response carried no session")
	}

	if first {
		if err != nil {
			s.bind(NoSession, 0, "")
			logx.Error().Err(err).Msg("failed to create chat session")
			return 0, fmt.Errorf("persist first user turn: %v: %w", err, ErrSessionNotCreated)
		}
		s.bind(Active, out.ChatSession.Index, userID)
		logx.Info().Int64("session_index", out.ChatSession.Index).Msg("chat session created")
		return out.ChatSession.Index, nil
	}

	if err != nil {
		logx.Error().Err(err).Int64("session_index", sessionID).Msg("failed to persist user turn")
		return sessionID, nil
	}
	if out.ChatSession.Index != sessionID {
		logx.Warn().
			Int64("session_index", sessionID).
			Int64("returned_index", out.ChatSession.Index).
			Msg("store returned a different session index, keeping the bound one")
	}
	return sessionID, nil
}

// PersistAssistantTurn stores an assistant turn. Failures are logged only.
func (s *Sequencer) PersistAssistantTurn(ctx context.Context, text string, estimate *model.Estimate) {
	s.callMu.Lock()
	defer s.callMu.Unlock()

	state, sessionID, owner := s.binding()
	if state != Active {
		logx.Warn().Str("state", state.String()).Msg("skipping assistant turn without a session")
		return
	}

	_, err := s.store.CreateOrAppendTurn(ctx, model.TurnInput{
		Role:         model.StoreRoleAI,
		UserID:       owner,
		SessionIndex: model.Int64Ptr(sessionID),
		Content:      text,
		Estimate:     estimate,
	})
	if err != nil {
		logx.Error().Err(err).Int64("session_index", sessionID).Msg("failed to persist assistant turn")
	}
}

// Title derives a session title from the first prompt.
func Title(prompt string, maxRunes int) string {
	title := strings.Join(strings.Fields(prompt), " ")
	if maxRunes <= 0 {
		return title
	}
	r := []rune(title)
	if len(r) <= maxRunes {
		return title
	}
	return string(r[:maxRunes])
}
