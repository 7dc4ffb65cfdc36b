package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/medremind/apiserver/internal/services"
	"github.com/medremind/apiserver/types"
)

// MedicineHandler provides HTTP handlers for medicine records and the dose
// actions.
type MedicineHandler struct {
	service *services.MedicineService
}

// NewMedicineHandler constructs a handler over the given service.
func NewMedicineHandler(service *services.MedicineService) *MedicineHandler {
	return &MedicineHandler{service: service}
}

// MedicineRouter registers medicine routes on the given router. The auth
// middleware resolves the caller when a token is present; anonymous
// requests operate on ownerless records only.
func MedicineRouter(r chi.Router, service *services.MedicineService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewMedicineHandler(service)

	if authMiddleware != nil {
		r.Use(authMiddleware)
	}
	r.Get("/", handler.List)
	r.Post("/", handler.Create)
	r.Route("/{medicineID}", func(r chi.Router) {
		r.Get("/", handler.Get)
		r.Put("/", handler.Update)
		r.Patch("/", handler.Update)
		r.Delete("/", handler.Delete)
		r.Post("/mark_taken", handler.MarkTaken)
		r.Post("/mark_completed", handler.MarkCompleted)
	})
}

func (h *MedicineHandler) List(w http.ResponseWriter, r *http.Request) {
	medicines, err := h.service.List(r.Context(), callerFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, medicines)
}

func (h *MedicineHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseMedicineID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	medicine, err := h.service.Get(r.Context(), callerFromContext(r.Context()), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, medicine)
}

func (h *MedicineHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, err := decodeMedicineRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	created, err := h.service.Create(r.Context(), callerFromContext(r.Context()), req.draft())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *MedicineHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseMedicineID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := decodeMedicineRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	updated, err := h.service.Update(r.Context(), callerFromContext(r.Context()), id, req.patch())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *MedicineHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseMedicineID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.Delete(r.Context(), callerFromContext(r.Context()), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkTaken marks one time slot of the medicine as taken.
// Expects JSON body: {"time": "07:00"}.
func (h *MedicineHandler) MarkTaken(w http.ResponseWriter, r *http.Request) {
	id, err := parseMedicineID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req MarkTakenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Missing 'time'.")
		return
	}

	medicine, err := h.service.MarkTaken(r.Context(), callerFromContext(r.Context()), id, req.Time)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, medicine)
}

// MarkCompleted marks the medicine's treatment as completed.
func (h *MedicineHandler) MarkCompleted(w http.ResponseWriter, r *http.Request) {
	id, err := parseMedicineID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	medicine, err := h.service.MarkCompleted(r.Context(), callerFromContext(r.Context()), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, medicine)
}

// MedicineRequest carries the writable medicine fields. Pointer fields keep
// PATCH semantics: absent fields stay untouched. The id, owner, start date
// and timestamps are read-only and ignored if sent.
type MedicineRequest struct {
	Name         *string               `json:"name"`
	Times        *[]string             `json:"times"`
	Posology     *string               `json:"posology"`
	Duration     *int                  `json:"duration"`
	TakenTimes   *map[string]bool      `json:"taken_times"`
	LastNotified *map[string]time.Time `json:"last_notified"`
	Completed    *bool                 `json:"completed"`
}

type MarkTakenRequest struct {
	Time string `json:"time"`
}

func decodeMedicineRequest(r *http.Request) (MedicineRequest, error) {
	var req MedicineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return MedicineRequest{}, err
	}
	return req, nil
}

func (req MedicineRequest) draft() types.Medicine {
	var medicine types.Medicine
	if req.Name != nil {
		medicine.Name = *req.Name
	}
	if req.Times != nil {
		medicine.Times = *req.Times
	}
	if req.Posology != nil {
		medicine.Posology = *req.Posology
	}
	if req.Duration != nil {
		medicine.Duration = *req.Duration
	}
	if req.TakenTimes != nil {
		medicine.TakenTimes = *req.TakenTimes
	}
	if req.LastNotified != nil {
		medicine.LastNotified = *req.LastNotified
	}
	if req.Completed != nil {
		medicine.Completed = *req.Completed
	}
	return medicine
}

func (req MedicineRequest) patch() services.MedicineUpdate {
	return services.MedicineUpdate{
		Name:         req.Name,
		Times:        req.Times,
		Posology:     req.Posology,
		Duration:     req.Duration,
		TakenTimes:   req.TakenTimes,
		LastNotified: req.LastNotified,
		Completed:    req.Completed,
	}
}

func parseMedicineID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "medicineID")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, errors.New("invalid medicine id")
	}
	return id, nil
}
