package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/secretary/wa-bridge/internal/store"
)

func (h *Handlers) handleFileCreate(w http.ResponseWriter, r *http.Request) {
	var f store.File
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if f.Name == "" || f.Path == "" {
		respondError(w, http.StatusBadRequest, "name and path are required")
		return
	}
	if err := h.files.Create(r.Context(), &f); err != nil {
		log.Printf("api: create file: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to create file record")
		return
	}
	respond(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"file":    f,
	})
}

func (h *Handlers) handleFileList(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	out, err := h.files.List(r.Context(), r.URL.Query().Get("chat_id"), limit)
	if err != nil {
		log.Printf("api: list files: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list files")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"files":   out,
	})
}

func (h *Handlers) handleFileGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid file id")
		return
	}
	f, err := h.files.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		log.Printf("api: get file %d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "failed to load file record")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"file":    f,
	})
}

func (h *Handlers) handleFileDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid file id")
		return
	}
	err = h.files.Delete(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		log.Printf("api: delete file %d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "failed to delete file record")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"success": true})
}
