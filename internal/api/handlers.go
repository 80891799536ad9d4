package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/bobarin/composer/internal/models"
	"github.com/bobarin/composer/internal/worker"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Compositions is the job and composition service behind the HTTP API.
type Compositions interface {
	CreateJob(ctx context.Context, userID, workspaceID int64, req *models.CreateJobRequest) (*models.JobResponse, error)
	GenerateCombinations(ctx context.Context, userID, workspaceID int64, req *models.GenerateCombinationsRequest) ([]models.CombinationRequest, error)
	GetJobStatus(ctx context.Context, userID int64, jobID uuid.UUID) (*models.JobResponse, error)
	ListCompositions(ctx context.Context, userID, workspaceID int64) ([]models.CompositionResponse, error)
	DeleteComposition(ctx context.Context, userID, compositionID int64) error
	BulkDelete(ctx context.Context, userID, workspaceID int64, req *models.BulkDeleteRequest) (*models.BulkDeleteResponse, error)
}

type Handler struct {
	compositions Compositions
}

func NewHandler(compositions Compositions) *Handler {
	return &Handler{compositions: compositions}
}

// CreateJob handles POST /v1/compositions/workspace/{workspaceId}
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := pathID(w, r, "workspaceId")
	if !ok {
		return
	}

	var req models.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job, err := h.compositions.CreateJob(r.Context(), userID(r), workspaceID, &req)
	if err != nil {
		respondServiceError(w, err, "Failed to create composition job")
		return
	}

	respondJSON(w, http.StatusCreated, job)
}

// GenerateCombinations handles POST /v1/compositions/workspace/{workspaceId}/generate-combinations
func (h *Handler) GenerateCombinations(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := pathID(w, r, "workspaceId")
	if !ok {
		return
	}

	var req models.GenerateCombinationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	combos, err := h.compositions.GenerateCombinations(r.Context(), userID(r), workspaceID, &req)
	if err != nil {
		respondServiceError(w, err, "Failed to generate combinations")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"combinations": combos,
		"count":        len(combos),
	})
}

// GetJobStatus handles GET /v1/compositions/job/{jobId}
func (h *Handler) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := h.compositions.GetJobStatus(r.Context(), userID(r), jobID)
	if err != nil {
		respondServiceError(w, err, "Failed to get job status")
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// ListCompositions handles GET /v1/compositions/workspace/{workspaceId}
func (h *Handler) ListCompositions(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := pathID(w, r, "workspaceId")
	if !ok {
		return
	}

	comps, err := h.compositions.ListCompositions(r.Context(), userID(r), workspaceID)
	if err != nil {
		respondServiceError(w, err, "Failed to list compositions")
		return
	}

	respondJSON(w, http.StatusOK, comps)
}

// DeleteComposition handles DELETE /v1/compositions/{id}
func (h *Handler) DeleteComposition(w http.ResponseWriter, r *http.Request) {
	compositionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.compositions.DeleteComposition(r.Context(), userID(r), compositionID); err != nil {
		respondServiceError(w, err, "Failed to delete composition")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "Composition deleted"})
}

// BulkDelete handles DELETE /v1/compositions/bulk/{workspaceId}
func (h *Handler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := pathID(w, r, "workspaceId")
	if !ok {
		return
	}

	var req models.BulkDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.compositions.BulkDelete(r.Context(), userID(r), workspaceID, &req)
	if err != nil {
		respondServiceError(w, err, "Failed to delete compositions")
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "Invalid "+param)
		return 0, false
	}
	return id, true
}

// respondServiceError maps service sentinels to status codes. Anything else is
// logged and reported as a 500 with a generic message.
func respondServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, worker.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, worker.ErrNotFound):
		respondError(w, http.StatusNotFound, "Not found")
	default:
		log.Printf("[API] %s: %v", fallback, err)
		respondError(w, http.StatusInternalServerError, fallback)
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
