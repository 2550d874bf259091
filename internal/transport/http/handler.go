package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"legalia-progress-service/internal/app"
	"legalia-progress-service/internal/domain"
)

// Handler exposes the submission core over thin JSON endpoints.
type Handler struct {
	service *app.SubmissionService
}

// NewHandler wraps the submission service.
func NewHandler(service *app.SubmissionService) *Handler {
	return &Handler{service: service}
}

// Register mounts the endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/submissions", h.handleSubmit)
	mux.HandleFunc("/v1/levels", h.handleLevel)
}

type submitRequest struct {
	UserID         string  `json:"userId"`
	QuizID         string  `json:"quizId"`
	CorrectAnswers int     `json:"correctAnswers"`
	TotalQuestions int     `json:"totalQuestions"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.QuizID == "" {
		writeError(w, http.StatusBadRequest, "missing userId or quizId")
		return
	}

	result, err := h.service.SubmitQuizAttempt(r.Context(), req.UserID, req.QuizID, req.CorrectAnswers, req.TotalQuestions, req.ElapsedSeconds)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleLevel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	totalXP, err := strconv.Atoi(r.URL.Query().Get("totalXP"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "totalXP must be an integer")
		return
	}
	progress, svcErr := h.service.GetLevelProgress(totalXP)
	if svcErr != nil {
		writeDomainError(w, svcErr)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAttempt):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrQuizNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrTooFrequent):
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		log.Printf("submission failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write response: %v", err)
	}
}
