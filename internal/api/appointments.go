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

func (h *Handlers) handleAppointmentCreate(w http.ResponseWriter, r *http.Request) {
	var a store.Appointment
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if a.Title == "" || a.StartsAt.IsZero() {
		respondError(w, http.StatusBadRequest, "title and startsAt are required")
		return
	}
	if err := h.appointments.Create(r.Context(), &a); err != nil {
		log.Printf("api: create appointment: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to create appointment")
		return
	}
	respond(w, http.StatusCreated, map[string]interface{}{
		"success":     true,
		"appointment": a,
	})
}

func (h *Handlers) handleAppointmentList(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	out, err := h.appointments.List(r.Context(), limit)
	if err != nil {
		log.Printf("api: list appointments: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list appointments")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"appointments": out,
	})
}

func (h *Handlers) handleAppointmentGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid appointment id")
		return
	}
	a, err := h.appointments.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "appointment not found")
		return
	}
	if err != nil {
		log.Printf("api: get appointment %d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "failed to load appointment")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"appointment": a,
	})
}

func (h *Handlers) handleAppointmentUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid appointment id")
		return
	}
	var a store.Appointment
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	a.ID = id
	err = h.appointments.Update(r.Context(), &a)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "appointment not found")
		return
	}
	if err != nil {
		log.Printf("api: update appointment %d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "failed to update appointment")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"appointment": a,
	})
}

func (h *Handlers) handleAppointmentDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid appointment id")
		return
	}
	err = h.appointments.Delete(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "appointment not found")
		return
	}
	if err != nil {
		log.Printf("api: delete appointment %d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "failed to delete appointment")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"success": true})
}
