// Package api exposes the bridge's REST surface: session lifecycle commands,
// chat and message reads (live with database fallback), message search, and
// the appointment/file stores. Handlers return JSON envelopes with a
// "success" flag, matching what the dashboard expects.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/secretary/wa-bridge/internal/ratelimit"
	"github.com/secretary/wa-bridge/internal/session"
	"github.com/secretary/wa-bridge/internal/store"
	"github.com/secretary/wa-bridge/internal/wa"
)

// SessionController is the slice of the session manager the API needs.
// Satisfied by *session.Manager; tests substitute a fake.
type SessionController interface {
	Initialize(ctx context.Context) error
	Disconnect() error
	Status() session.Status
	QRCode() string
	SendMessage(ctx context.Context, chatID, text, mediaPath string) error
	ListChats(ctx context.Context) ([]wa.Chat, error)
	ListMessages(ctx context.Context, chatID string, limit int) ([]wa.Message, error)
	SearchMessages(ctx context.Context, query, chatID string) ([]session.SearchResult, error)
}

// QRStore is the Redis-backed QR cache consulted when the manager has no
// pending challenge (e.g. after a process restart). Satisfied by
// *presence.Store.
type QRStore interface {
	GetQR(ctx context.Context) (string, error)
}

// Limiter throttles send-message requests. Satisfied by *ratelimit.Limiter.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Handlers bundles the API's collaborators. Store, appointment/file stores,
// QR cache, and limiter are all optional; absent ones disable the matching
// feature (404 or pass-through).
type Handlers struct {
	session      SessionController
	store        *store.Store
	appointments *store.AppointmentStore
	files        *store.FileStore
	qrStore      QRStore
	limiter      Limiter
}

// NewHandlers creates the handler set.
func NewHandlers(sc SessionController) *Handlers {
	return &Handlers{session: sc}
}

// WithStore enables database fallback for chat/message reads.
func (h *Handlers) WithStore(s *store.Store) *Handlers {
	h.store = s
	return h
}

// WithAppointments enables the appointment endpoints.
func (h *Handlers) WithAppointments(s *store.AppointmentStore) *Handlers {
	h.appointments = s
	return h
}

// WithFiles enables the file endpoints.
func (h *Handlers) WithFiles(s *store.FileStore) *Handlers {
	h.files = s
	return h
}

// WithQRStore enables the Redis QR fallback.
func (h *Handlers) WithQRStore(qs QRStore) *Handlers {
	h.qrStore = qs
	return h
}

// WithLimiter enables send-message rate limiting.
func (h *Handlers) WithLimiter(l Limiter) *Handlers {
	h.limiter = l
	return h
}

// Router builds the chi router for the /api subtree.
func (h *Handlers) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/whatsapp", func(r chi.Router) {
		r.Post("/connect", h.handleConnect)
		r.Post("/disconnect", h.handleDisconnect)
		r.Get("/status", h.handleStatus)
		r.Get("/qr", h.handleQR)
		r.Post("/send-message", h.handleSendMessage)
		r.Get("/chats", h.handleChats)
		r.Get("/chats/{chatID}/messages", h.handleChatMessages)
		r.Get("/search", h.handleSearch)
	})

	if h.appointments != nil {
		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.handleAppointmentCreate)
			r.Get("/", h.handleAppointmentList)
			r.Get("/{id}", h.handleAppointmentGet)
			r.Put("/{id}", h.handleAppointmentUpdate)
			r.Delete("/{id}", h.handleAppointmentDelete)
		})
	}

	if h.files != nil {
		r.Route("/files", func(r chi.Router) {
			r.Post("/", h.handleFileCreate)
			r.Get("/", h.handleFileList)
			r.Get("/{id}", h.handleFileGet)
			r.Delete("/{id}", h.handleFileDelete)
		})
	}

	return r
}

// respond writes a JSON body with the given status code.
func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

// respondError writes a {success: false, error: ...} envelope.
func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
