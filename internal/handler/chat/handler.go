package chat

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/chative-estimate/server/internal/agent/model"
	"github.com/chative-estimate/server/internal/agent/orchestrator"
	errx "github.com/chative-estimate/server/internal/core/error"
	"github.com/chative-estimate/server/internal/middleware"
	logx "github.com/chative-estimate/server/pkg/logger"
	"github.com/chative-estimate/server/pkg/utils"
)

// Handler exposes chat lifecycle, submission and ledger operations over HTTP.
type Handler struct {
	chats    *orchestrator.Registry
	orch     *orchestrator.Orchestrator
	sessions model.SessionStore
}

func New(chats *orchestrator.Registry, orch *orchestrator.Orchestrator, sessions model.SessionStore) *Handler {
	return &Handler{chats: chats, orch: orch, sessions: sessions}
}

// RegisterRoutes registers chat routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chats", h.handleCreateChat)
	r.Route("/chats/{chatID}", func(r chi.Router) {
		r.Get("/", h.handleGetChat)
		r.Delete("/", h.handleDeleteChat)
		r.Put("/selections", h.handleSetSelections)
		r.Post("/messages", h.handleSubmit)
		r.Delete("/messages/active", h.handleCancel)
		r.Post("/items/{itemID}/toggle", h.handleToggle)
	})
	r.Get("/sessions/{index}/turns", h.handleSessionTurns)
}

type selectionsRequest struct {
	Selections []model.Selection `json:"selections"`
	Complete   bool              `json:"complete"`
}

type submitRequest struct {
	Prompt          string             `json:"prompt"`
	Attachments     []model.Attachment `json:"attachments"`
	SystemInitiated bool               `json:"systemInitiated"`
}

func (h *Handler) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var payload selectionsRequest
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(r, &payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	chat := h.chats.Create()
	if err := chat.SetSelections(payload.Selections, payload.Complete); err != nil {
		respondAppError(w, err)
		return
	}
	logx.Info().Str("chat_id", chat.ID).Msg("chat created")
	utils.RespondJSON(w, http.StatusCreated, chat.Snapshot())
}

func (h *Handler) handleGetChat(w http.ResponseWriter, r *http.Request) {
	chat, ok := h.chat(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, chat.Snapshot())
}

func (h *Handler) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if !h.chats.Delete(chi.URLParam(r, "chatID")) {
		utils.RespondError(w, http.StatusNotFound, "chat not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetSelections(w http.ResponseWriter, r *http.Request) {
	chat, ok := h.chat(w, r)
	if !ok {
		return
	}
	var payload selectionsRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := chat.SetSelections(payload.Selections, payload.Complete); err != nil {
		respondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, chat.Snapshot())
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	chat, ok := h.chat(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, chat.ToggleDeleted(chi.URLParam(r, "itemID")))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	chat, ok := h.chat(w, r)
	if !ok {
		return
	}
	if !chat.Cancel() {
		utils.RespondError(w, http.StatusConflict, "no response is streaming")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSubmit streams the submission's events as SSE. Errors raised before
// the first event are returned as plain JSON errors.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	chat, ok := h.chat(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var payload submitRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	started := false
	emit := func(ev orchestrator.Event) {
		if !started {
			utils.SetupSSEHeaders(w)
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := utils.SendSSEEvent(w, flusher, string(ev.Kind), ev); err != nil {
			logx.Debug().Err(err).Str("chat_id", chat.ID).Msg("client went away")
		}
	}

	err := h.orch.Submit(r.Context(), chat, middleware.IdentityFrom(r.Context()), orchestrator.Submission{
		Prompt:          payload.Prompt,
		Attachments:     payload.Attachments,
		SystemInitiated: payload.SystemInitiated,
	}, emit)
	if err == nil {
		return
	}
	if !started {
		respondAppError(w, err)
		return
	}
	_ = utils.SendSSEEvent(w, flusher, "error", map[string]any{
		"chatId": chat.ID,
		"status": errx.StatusOf(err, http.StatusInternalServerError),
		"error":  errx.MessageOf(err),
	})
}

func (h *Handler) handleSessionTurns(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFrom(r.Context())
	if !id.Authenticated() {
		utils.RespondError(w, http.StatusUnauthorized, orchestrator.ErrLoginRequired.Message)
		return
	}
	index, err := strconv.ParseInt(chi.URLParam(r, "index"), 10, 64)
	if err != nil || index <= 0 {
		utils.RespondError(w, http.StatusBadRequest, "invalid session index")
		return
	}
	turns, err := h.sessions.LoadTurns(r.Context(), index, id.UserID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"index": index, "turns": turns})
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) (*orchestrator.ChatContext, bool) {
	chat, ok := h.chats.Get(chi.URLParam(r, "chatID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "chat not found")
		return nil, false
	}
	return chat, true
}

func respondAppError(w http.ResponseWriter, err error) {
	status := errx.StatusOf(err, http.StatusInternalServerError)
	if status >= http.StatusInternalServerError {
		logx.Error().Err(err).Int("status", status).Msg("request failed")
	}
	utils.RespondError(w, status, errx.MessageOf(err))
}
