package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/secretary/wa-bridge/internal/ratelimit"
	"github.com/secretary/wa-bridge/internal/session"
)

// handleConnect starts a new session attempt.
func (h *Handlers) handleConnect(w http.ResponseWriter, r *http.Request) {
	err := h.session.Initialize(r.Context())
	if errors.Is(err, session.ErrAlreadyActive) {
		respondError(w, http.StatusConflict, "session already active")
		return
	}
	if err != nil {
		log.Printf("api: connect: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "initializing, scan the QR code when it appears",
	})
}

// handleDisconnect tears the session down.
func (h *Handlers) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Disconnect(); err != nil {
		log.Printf("api: disconnect: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to disconnect")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "disconnected",
	})
}

// handleStatus returns the session status view.
func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"status":  h.session.Status(),
	})
}

// handleQR returns the pending QR challenge. When the manager holds none
// (typically after a restart mid-authentication) the Redis cache is
// consulted before giving up.
func (h *Handlers) handleQR(w http.ResponseWriter, r *http.Request) {
	qr := h.session.QRCode()
	if qr == "" && h.qrStore != nil {
		cached, err := h.qrStore.GetQR(r.Context())
		if err != nil {
			log.Printf("api: qr cache read: %v", err)
		} else {
			qr = cached
		}
	}
	if qr == "" {
		respondError(w, http.StatusNotFound, "no QR code available")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"qr":      qr,
	})
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Message   string `json:"message"`
	MediaPath string `json:"media_path,omitempty"`
}

// handleSendMessage delivers a message through the active session.
func (h *Handlers) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChatID == "" || req.Message == "" {
		respondError(w, http.StatusBadRequest, "chat_id and message are required")
		return
	}

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(r.Context(), req.ChatID, ratelimit.RuleSend)
		if err == nil && !allowed {
			respondError(w, http.StatusTooManyRequests, "send rate limit exceeded for chat")
			return
		}
	}

	err := h.session.SendMessage(r.Context(), req.ChatID, req.Message, req.MediaPath)
	switch {
	case errors.Is(err, session.ErrNotReady):
		respondError(w, http.StatusConflict, "session not ready")
	case err != nil:
		var derr *session.DeliveryError
		if errors.As(err, &derr) {
			respondError(w, http.StatusBadGateway, "message delivery failed")
			return
		}
		log.Printf("api: send message: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to send message")
	default:
		respond(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "message sent",
		})
	}
}

// handleChats lists chats from the live session, falling back to the
// database mirror when the session is not ready.
func (h *Handlers) handleChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.session.ListChats(r.Context())
	if errors.Is(err, session.ErrNotReady) && h.store != nil {
		chats, err = h.store.ListChats(r.Context())
		if err != nil {
			log.Printf("api: chats fallback: %v", err)
			respondError(w, http.StatusInternalServerError, "failed to list chats")
			return
		}
		respond(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"chats":   chats,
			"source":  "store",
		})
		return
	}
	if errors.Is(err, session.ErrNotReady) {
		respondError(w, http.StatusConflict, "session not ready")
		return
	}
	if err != nil {
		log.Printf("api: chats: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"chats":   chats,
	})
}

// handleChatMessages returns recent messages for one chat, falling back to
// the database mirror when the session is not ready.
func (h *Handlers) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	msgs, err := h.session.ListMessages(r.Context(), chatID, limit)
	if errors.Is(err, session.ErrNotReady) && h.store != nil {
		msgs, err = h.store.ListMessages(r.Context(), chatID, limit)
		if err != nil {
			log.Printf("api: messages fallback chat=%s: %v", chatID, err)
			respondError(w, http.StatusInternalServerError, "failed to list messages")
			return
		}
		respond(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"messages": msgs,
			"source":   "store",
		})
		return
	}
	if errors.Is(err, session.ErrNotReady) {
		respondError(w, http.StatusConflict, "session not ready")
		return
	}
	if err != nil {
		log.Printf("api: messages chat=%s: %v", chatID, err)
		respondError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"messages": msgs,
	})
}

// handleSearch runs a bounded containment search over chat messages.
func (h *Handlers) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	chatID := r.URL.Query().Get("chat_id")

	// Search fans out over every chat; bound it so a stuck runner cannot
	// pin the request forever.
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	results, err := h.session.SearchMessages(ctx, query, chatID)
	if errors.Is(err, session.ErrNotReady) {
		respondError(w, http.StatusConflict, "session not ready")
		return
	}
	if err != nil {
		log.Printf("api: search: %v", err)
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"results": results,
		"count":   len(results),
	})
}
