package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/vedran77/courier/internal/service"
	"github.com/vedran77/courier/internal/transport/http/middleware"
	"go.uber.org/zap"
)

type ChatHandler struct {
	chatService *service.ChatService
	log         *zap.SugaredLogger
}

func NewChatHandler(chatService *service.ChatService, log *zap.SugaredLogger) *ChatHandler {
	return &ChatHandler{chatService: chatService, log: log}
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input service.SendMessageInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	result, err := h.chatService.SendMessage(r.Context(), userID, input)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPeerNotFound):
			writeError(w, http.StatusNotFound, "PEER_NOT_FOUND", "Recipient not found")
		case errors.Is(err, service.ErrCannotMessageSelf):
			writeError(w, http.StatusBadRequest, "INVALID_RECIPIENT", "Cannot send a message to yourself")
		case errors.Is(err, service.ErrEmptyMessage):
			writeError(w, http.StatusUnprocessableEntity, "EMPTY_MESSAGE", "Message body is required unless attachments are present")
		case errors.Is(err, service.ErrMessageTooLong):
			writeError(w, http.StatusUnprocessableEntity, "MESSAGE_TOO_LONG", "Message body exceeds 2000 characters")
		case errors.Is(err, service.ErrInvalidMessageType):
			writeError(w, http.StatusUnprocessableEntity, "INVALID_TYPE", "Unknown message type")
		case errors.Is(err, service.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
		default:
			h.log.Errorw("send message", "err", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *ChatHandler) GetThreads(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	threads, err := h.chatService.GetThreads(r.Context(), userID)
	if err != nil {
		h.log.Errorw("get threads", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	writeJSON(w, http.StatusOK, threads)
}

func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var target service.MessagesTarget
	q := r.URL.Query()

	if v := q.Get("conversation_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid conversation ID")
			return
		}
		target.ConversationID = &id
	} else if v := q.Get("peer_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid peer ID")
			return
		}
		target.PeerID = &id
	} else if v := q.Get("peer_email"); v != "" {
		target.PeerEmail = v
	} else {
		writeError(w, http.StatusBadRequest, "MISSING_TARGET", "conversation_id, peer_id or peer_email is required")
		return
	}

	limit := 50
	if v := q.Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	var beforeSeq int64
	if v := q.Get("before"); v != "" {
		s, err := strconv.ParseInt(v, 10, 64)
		if err != nil || s < 1 {
			writeError(w, http.StatusBadRequest, "INVALID_CURSOR", "before must be a message seq")
			return
		}
		beforeSeq = s
	}

	history, err := h.chatService.GetMessages(r.Context(), userID, target, limit, beforeSeq)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrConversationNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Conversation not found")
		case errors.Is(err, service.ErrPeerNotFound):
			writeError(w, http.StatusNotFound, "PEER_NOT_FOUND", "Peer not found")
		case errors.Is(err, service.ErrCannotMessageSelf):
			writeError(w, http.StatusBadRequest, "INVALID_RECIPIENT", "Cannot open a conversation with yourself")
		default:
			h.log.Errorw("get messages", "err", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusOK, history)
}

func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid message ID")
		return
	}

	msg, err := h.chatService.MarkRead(r.Context(), messageID, userID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMessageNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Message not found")
		default:
			h.log.Errorw("mark read", "err", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

func (h *ChatHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	users, err := h.chatService.ListUsers(r.Context(), userID)
	if err != nil {
		h.log.Errorw("list users", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	writeJSON(w, http.StatusOK, users)
}

func (h *ChatHandler) Online(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"online": h.chatService.OnlineUsers()})
}
