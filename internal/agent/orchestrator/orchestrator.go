// Package orchestrator drives one user submission end to end: preconditions,
// optimistic turns, persistence, the backend stream and error recovery.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/chative-estimate/server/internal/agent/graph/conversations"
	"github.com/chative-estimate/server/internal/agent/graph/parsers"
	"github.com/chative-estimate/server/internal/agent/model"
	errx "github.com/chative-estimate/server/internal/core/error"
	logx "github.com/chative-estimate/server/pkg/logger"
)

var (
	ErrEmptySubmission = errx.New(nil, http.StatusBadRequest, "prompt or attachment required")
	ErrMissingClient   = errx.New(nil, http.StatusBadRequest, "client id required for anonymous use")
	ErrLoginRequired   = errx.New(nil, http.StatusUnauthorized, "login required")
	ErrNotFreeForm     = errx.New(nil, http.StatusConflict, "chat is not accepting free-form input")
	ErrBusy            = errx.New(nil, http.StatusConflict, "a response is already streaming")
	ErrStreamNotReady  = errx.New(nil, http.StatusServiceUnavailable, "assistant is not available, please retry later")
)

// Streamer is the generative backend.
type Streamer interface {
	Ready() bool
	ModelName() string
	Stream(ctx context.Context, req model.EstimateRequest) (*schema.StreamReader[*schema.Message], error)
}

// Submission is one user (or system) request.
type Submission struct {
	Prompt      string
	Attachments []model.Attachment
	// SystemInitiated submissions get no visible user turn.
	SystemInitiated bool
}

type Orchestrator struct {
	backend Streamer
	quota   model.QuotaStore
	cfg     model.ChatConfig
	log     zerolog.Logger
}

func New(backend Streamer, quota model.QuotaStore, cfg model.ChatConfig) *Orchestrator {
	return &Orchestrator{
		backend: backend,
		quota:   quota,
		cfg:     cfg,
		log:     logx.Component("orchestrator"),
	}
}

// Submit runs one submission against chat, reporting every state change to emit.
// A mid-stream failure is not returned as an error: the assistant turn keeps
// its partial text followed by a notice and an error-appended event is emitted.
func (o *Orchestrator) Submit(ctx context.Context, chat *ChatContext, id model.Identity, sub Submission, emit Emitter) error {
	log := o.log.With().Str("chat_id", chat.ID).Logger()

	if strings.TrimSpace(sub.Prompt) == "" && len(sub.Attachments) == 0 {
		return ErrEmptySubmission
	}
	if err := chat.begin(); err != nil {
		return err
	}
	defer func() {
		chat.touch(time.Now())
		chat.loading.Store(false)
	}()

	if !id.Authenticated() {
		if err := o.checkQuota(ctx, chat, id, emit); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	chat.setCancel(cancel)
	defer func() {
		chat.setCancel(nil)
		cancel()
	}()

	// optimistic turns
	var userTurn model.Turn
	if !sub.SystemInitiated {
		userTurn = chat.appendTurn(model.Turn{
			Role:        model.RoleUser,
			Text:        sub.Prompt,
			Attachments: append([]model.Attachment(nil), sub.Attachments...),
		})
		emit.emit(Event{Kind: EventTurnAppended, ChatID: chat.ID, Turn: &userTurn})
	}
	assistant := chat.appendTurn(model.Turn{Role: model.RoleAssistant})
	emit.emit(Event{Kind: EventTurnAppended, ChatID: chat.ID, Turn: &assistant})

	firstOptimistic := assistant.ID
	if !sub.SystemInitiated {
		firstOptimistic = userTurn.ID
	}

	if id.Authenticated() {
		sessionIndex, err := chat.seq.PersistUserTurn(ctx, id.UserID, sub.Prompt, sub.Attachments)
		if err != nil {
			rolled := []int64{assistant.ID}
			if !sub.SystemInitiated {
				rolled = []int64{userTurn.ID, assistant.ID}
			}
			chat.removeTurns(rolled...)
			emit.emit(Event{Kind: EventTurnsRolledBack, ChatID: chat.ID, TurnIDs: rolled, Error: errx.MessageOf(err)})
			log.Error().Err(err).Msg("submission aborted, session could not be created")
			return err
		}
		ev := Event{Kind: EventTurnPersisted, ChatID: chat.ID, SessionIndex: sessionIndex}
		if !sub.SystemInitiated {
			ev.Turn = &userTurn
		}
		emit.emit(ev)
		log = log.With().Int64("session_index", sessionIndex).Logger()
	}

	req := model.EstimateRequest{
		ChatID:           chat.ID,
		SelectionSummary: chat.selectionSummary(),
		LedgerSnapshot:   chat.ledgerSnapshot(),
		Prompt:           sub.Prompt,
		Attachments:      sub.Attachments,
		History:          conversations.History(chat.history(firstOptimistic), o.cfg.MaxHistoryTurns),
	}

	if err := o.waitReady(ctx); err != nil {
		o.fail(chat, assistant.ID, "", errx.MessageOf(err), emit)
		log.Error().Err(err).Msg("backend never became ready")
		return err
	}

	sr, err := o.backend.Stream(ctx, req)
	if err != nil {
		o.fail(chat, assistant.ID, "", o.cfg.StreamErrorNotice, emit)
		log.Error().Err(err).Msg("failed to open response stream")
		return errx.New(err, http.StatusBadGateway, "failed to reach the assistant")
	}

	// the call reached the backend; anonymous quota is spent whatever happens next
	defer o.spendQuota(ctx, chat, id, emit)

	final, streamErr := o.drive(ctx, chat, assistant.ID, sr, emit)
	if streamErr != nil {
		o.fail(chat, assistant.ID, final.text, o.cfg.StreamErrorNotice, emit)
		log.Warn().Err(streamErr).Int("chars", len(final.text)).Msg("response stream interrupted")
		return nil
	}

	if cost, ok := model.CostOf(o.backend.ModelName(), final.message); ok {
		log.Debug().
			Str("model", cost.Model).
			Int("prompt_tokens", cost.PromptTokens).
			Int("completion_tokens", cost.CompletionTokens).
			Int("total_tokens", cost.TotalTokens).
			Float64("total_cost_usd", cost.TotalCost).
			Msg("LLM usage")
	}

	if id.Authenticated() {
		chat.seq.PersistAssistantTurn(context.WithoutCancel(ctx), final.text, final.estimate)
		settled, _ := chat.updateTurn(assistant.ID, func(*model.Turn) {})
		sessionIndex, _ := chat.seq.SessionID()
		emit.emit(Event{Kind: EventTurnPersisted, ChatID: chat.ID, Turn: &settled, SessionIndex: sessionIndex})
	}
	return nil
}

type streamResult struct {
	text     string
	estimate *model.Estimate
	message  *schema.Message
}

// drive consumes the stream, re-running the extractor over the whole buffer
// after every chunk and seeding the ledger when the estimate first appears.
func (o *Orchestrator) drive(ctx context.Context, chat *ChatContext, turnID int64, sr *schema.StreamReader[*schema.Message], emit Emitter) (streamResult, error) {
	defer sr.Close()

	var (
		res     streamResult
		buf     strings.Builder
		chunks  []*schema.Message
		tracker = parsers.NewTracker()
	)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, err
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content == "" {
			continue
		}

		buf.WriteString(chunk.Content)
		parsed, seeded := tracker.Feed(buf.String())
		res.text = parsed.NaturalText
		res.estimate = parsed.Estimate

		turn, _ := chat.updateTurn(turnID, func(t *model.Turn) {
			t.Text = parsed.NaturalText
			t.Estimate = parsed.Estimate
		})
		emit.emit(Event{Kind: EventChunkApplied, ChatID: chat.ID, Turn: &turn})

		if seeded {
			view := chat.seedLedger(parsed.Estimate)
			emit.emit(Event{Kind: EventArtifactSeeded, ChatID: chat.ID, Turn: &turn, Ledger: &view})
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	if len(chunks) > 0 {
		msg, err := schema.ConcatMessages(chunks)
		if err != nil {
			o.log.Debug().Err(err).Msg("could not concat stream chunks")
		} else {
			res.message = msg
		}
	}
	return res, nil
}

// fail appends notice to whatever text the assistant turn already shows,
// drops any estimate and clears the ledger.
func (o *Orchestrator) fail(chat *ChatContext, turnID int64, partial, notice string, emit Emitter) {
	text := notice
	if partial != "" {
		text = partial + "\n\n" + notice
	}
	turn, _ := chat.updateTurn(turnID, func(t *model.Turn) {
		t.Text = text
		t.Estimate = nil
	})
	chat.clearLedger()
	emit.emit(Event{Kind: EventErrorAppended, ChatID: chat.ID, Turn: &turn, Error: notice})
}

func (o *Orchestrator) checkQuota(ctx context.Context, chat *ChatContext, id model.Identity, emit Emitter) error {
	if id.ClientID == "" {
		return ErrMissingClient
	}
	q, err := o.quota.Load(ctx, id.ClientID)
	if err != nil {
		return fmt.Errorf("load quota: %w", err)
	}
	if !q.Initialized {
		if q, err = o.quota.Init(ctx, id.ClientID, o.cfg.AnonymousCallLimit); err != nil {
			return fmt.Errorf("init quota: %w", err)
		}
	}
	if q.Exhausted() {
		emit.emit(Event{Kind: EventLoginRequired, ChatID: chat.ID, Quota: &q})
		return ErrLoginRequired
	}
	return nil
}

// spendQuota decrements the anonymous counter and closes the submission with
// a completed event.
func (o *Orchestrator) spendQuota(ctx context.Context, chat *ChatContext, id model.Identity, emit Emitter) {
	ev := Event{Kind: EventCompleted, ChatID: chat.ID}
	if !id.Authenticated() {
		q, err := o.quota.Decrement(context.WithoutCancel(ctx), id.ClientID)
		if err != nil {
			o.log.Error().Err(err).Str("client_id", id.ClientID).Msg("failed to decrement quota")
		} else {
			ev.Quota = &q
		}
	}
	emit.emit(ev)
}

// waitReady polls the backend at a fixed interval up to the attempt cap.
func (o *Orchestrator) waitReady(ctx context.Context) error {
	if o.backend.Ready() {
		return nil
	}
	attempts := o.cfg.ReadyMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	interval := o.cfg.ReadyRetryInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if o.backend.Ready() {
			return nil
		}
	}
	return ErrStreamNotReady
}
