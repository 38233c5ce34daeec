package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chative-estimate/server/internal/agent/graph/conversations"
	"github.com/chative-estimate/server/internal/agent/ledger"
	"github.com/chative-estimate/server/internal/agent/model"
)

// Mode is the input mode of the chat UI.
type Mode int

const (
	// ModeQuestionnaire means the step-wise selections are still being answered.
	ModeQuestionnaire Mode = iota
	ModeFreeForm
)

func (m Mode) String() string {
	if m == ModeFreeForm {
		return "free_form"
	}
	return "questionnaire"
}

// ChatContext is the state of one chat: visible turns, the estimate ledger,
// the bound remote session and the questionnaire answers.
type ChatContext struct {
	ID        string
	CreatedAt time.Time

	seq *conversations.Sequencer

	mu         sync.Mutex
	turns      []model.Turn
	nextID     int64
	ledger     *ledger.Ledger
	selections []model.Selection
	mode       Mode
	cancel     context.CancelFunc

	loading    atomic.Bool
	lastActive atomic.Int64
}

func NewChatContext(id string, seq *conversations.Sequencer) *ChatContext {
	c := &ChatContext{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		seq:       seq,
		ledger:    ledger.New(),
	}
	c.touch(c.CreatedAt)
	return c
}

// Snapshot is a copy of the chat state for readers outside the orchestrator.
type Snapshot struct {
	ID           string            `json:"id"`
	CreatedAt    time.Time         `json:"createdAt"`
	Mode         string            `json:"mode"`
	Loading      bool              `json:"loading"`
	SessionIndex *int64            `json:"sessionIndex,omitempty"`
	Selections   []model.Selection `json:"selections"`
	Turns        []model.Turn      `json:"turns"`
	Ledger       ledger.View       `json:"ledger"`
}

func (c *ChatContext) Snapshot() Snapshot {
	// read before c.mu: the sequencer lock is held across store calls
	sessionID, bound := c.seq.SessionID()

	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		ID:         c.ID,
		CreatedAt:  c.CreatedAt,
		Mode:       c.mode.String(),
		Loading:    c.loading.Load(),
		Selections: append([]model.Selection(nil), c.selections...),
		Turns:      copyTurns(c.turns),
		Ledger:     c.ledger.View(),
	}
	if bound {
		s.SessionIndex = model.Int64Ptr(sessionID)
	}
	return s
}

func (c *ChatContext) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *ChatContext) Loading() bool {
	return c.loading.Load()
}

// SetSelections replaces the questionnaire answers. Changed selections reset
// the chat: turns, ledger and the remote session binding are dropped. When
// complete is true the chat switches to free-form input.
func (c *ChatContext) SetSelections(selections []model.Selection, complete bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loading.Load() {
		return ErrBusy
	}

	if !sameSelections(c.selections, selections) {
		c.selections = append([]model.Selection(nil), selections...)
		c.turns = nil
		c.ledger = ledger.New()
		c.seq.Reset()
	}
	if complete {
		c.mode = ModeFreeForm
	} else {
		c.mode = ModeQuestionnaire
	}
	return nil
}

// ToggleDeleted flips the soft-delete flag of one line item of the current estimate.
func (c *ChatContext) ToggleDeleted(itemID string) ledger.View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.ToggleDeleted(itemID)
}

// Cancel aborts the in-flight submission, if any.
func (c *ChatContext) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return false
	}
	c.cancel()
	return true
}

// begin marks the chat as loading. Mode and the loading flag are checked under
// c.mu so SetSelections cannot reset the chat once a submission has started.
func (c *ChatContext) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeFreeForm {
		return ErrNotFreeForm
	}
	if !c.loading.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (c *ChatContext) touch(at time.Time) {
	c.lastActive.Store(at.UnixNano())
}

// idleFor reports how long the chat has gone without activity at now.
func (c *ChatContext) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastActive.Load()))
}

func (c *ChatContext) setCancel(cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
}

func (c *ChatContext) appendTurn(t model.Turn) model.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	t.ID = c.nextID
	c.turns = append(c.turns, t)
	return t
}

// updateTurn applies fn to the turn with id and returns a copy of the result.
func (c *ChatContext) updateTurn(id int64, fn func(*model.Turn)) (model.Turn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.turns {
		if c.turns[i].ID == id {
			fn(&c.turns[i])
			return c.turns[i], true
		}
	}
	return model.Turn{}, false
}

func (c *ChatContext) removeTurns(ids ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := c.turns[:0]
	for _, t := range c.turns {
		if !drop[t.ID] {
			kept = append(kept, t)
		}
	}
	c.turns = kept
}

// history returns the settled turns, i.e. those before the given id.
func (c *ChatContext) history(before int64) []model.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.Turn
	for _, t := range c.turns {
		if t.ID >= before {
			break
		}
		out = append(out, t)
	}
	return out
}

func (c *ChatContext) selectionSummary() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.selections) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Selections made before this conversation:")
	for _, s := range c.selections {
		label := s.Label
		if label == "" {
			label = s.Value
		}
		fmt.Fprintf(&b, "\n- %s: %s", s.Step, label)
	}
	return b.String()
}

func (c *ChatContext) ledgerSnapshot() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.Snapshot()
}

func (c *ChatContext) seedLedger(est *model.Estimate) ledger.View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.Seed(est)
}

func (c *ChatContext) clearLedger() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ledger.Clear()
}

func sameSelections(a, b []model.Selection) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func copyTurns(turns []model.Turn) []model.Turn {
	out := make([]model.Turn, len(turns))
	for i, t := range turns {
		t.Attachments = append([]model.Attachment(nil), t.Attachments...)
		out[i] = t
	}
	return out
}
