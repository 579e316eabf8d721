package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/vedran77/lobby/internal/service"
	"github.com/vedran77/lobby/internal/transport/http/middleware"
	"github.com/vedran77/lobby/pkg/validator"
)

type ChannelHandler struct {
	channelService *service.ChannelService
}

func NewChannelHandler(channelService *service.ChannelService) *ChannelHandler {
	return &ChannelHandler{channelService: channelService}
}

func (h *ChannelHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input service.CreateChannelInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if errs := validator.ValidateChannel(input.Name, input.Description); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	ch, err := h.channelService.Create(r.Context(), middleware.GetActor(r.Context()), input)
	if err != nil {
		writeServiceError(w, "create channel", err)
		return
	}

	writeJSON(w, http.StatusCreated, ch)
}

func (h *ChannelHandler) List(w http.ResponseWriter, r *http.Request) {
	channels, err := h.channelService.List(r.Context())
	if err != nil {
		writeServiceError(w, "list channels", err)
		return
	}

	writeJSON(w, http.StatusOK, channels)
}

// Get returns one channel. ?expand=users,messages resolves its references.
func (h *ChannelHandler) Get(w http.ResponseWriter, r *http.Request) {
	channelID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid channel ID")
		return
	}

	ch, err := h.channelService.Get(r.Context(), channelID)
	if err != nil {
		writeServiceError(w, "get channel", err)
		return
	}

	users, messages := parseExpand(r.URL.Query().Get("expand"))
	if !users && !messages {
		writeJSON(w, http.StatusOK, ch)
		return
	}

	view, err := h.channelService.Expand(r.Context(), middleware.GetActor(r.Context()), ch, users, messages)
	if err != nil {
		writeServiceError(w, "expand channel", err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func parseExpand(raw string) (users, messages bool) {
	for _, field := range strings.Split(raw, ",") {
		switch strings.TrimSpace(field) {
		case "users":
			users = true
		case "messages":
			messages = true
		}
	}
	return users, messages
}

// Mine returns the channel the caller is in.
func (h *ChannelHandler) Mine(w http.ResponseWriter, r *http.Request) {
	ch, err := h.channelService.MyChannel(r.Context(), middleware.GetActor(r.Context()))
	if err != nil {
		writeServiceError(w, "my channel", err)
		return
	}

	writeJSON(w, http.StatusOK, ch)
}

func (h *ChannelHandler) Delete(w http.ResponseWriter, r *http.Request) {
	channelID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid channel ID")
		return
	}

	if err := h.channelService.Delete(r.Context(), middleware.GetActor(r.Context()), channelID); err != nil {
		writeServiceError(w, "delete channel", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ChannelHandler) Join(w http.ResponseWriter, r *http.Request) {
	channelID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid channel ID")
		return
	}

	if err := h.channelService.Join(r.Context(), middleware.GetActor(r.Context()), channelID); err != nil {
		writeServiceError(w, "join channel", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ChannelHandler) Leave(w http.ResponseWriter, r *http.Request) {
	channelID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid channel ID")
		return
	}

	if err := h.channelService.Leave(r.Context(), middleware.GetActor(r.Context()), channelID); err != nil {
		writeServiceError(w, "leave channel", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ChannelHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	channelID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid channel ID")
		return
	}

	members, err := h.channelService.Members(r.Context(), middleware.GetActor(r.Context()), channelID)
	if err != nil {
		writeServiceError(w, "list channel members", err)
		return
	}

	writeJSON(w, http.StatusOK, members)
}
