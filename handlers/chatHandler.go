package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"coursechat/models"
	"coursechat/services/rag"

	"github.com/gorilla/mux"
)

// ChatService is the part of the RAG orchestrator the HTTP layer needs.
type ChatService interface {
	Query(ctx context.Context, query, sessionID string) (string, []models.Source, error)
	CreateSession() string
	ClearSession(sessionID string)
	GetCourseAnalytics() (*models.CourseStats, error)
}

type ChatHandler struct {
	service ChatService
}

func NewChatHandler(service ChatService) *ChatHandler {
	return &ChatHandler{service: service}
}

func (h *ChatHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/query", h.Query).Methods("POST")
	router.HandleFunc("/api/courses", h.GetCourses).Methods("GET")
	router.HandleFunc("/api/session/clear", h.ClearSession).Methods("POST")
}

func (h *ChatHandler) Query(w http.ResponseWriter, r *http.Request) {
	log.Printf("[INFO] Received query request")

	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[ERROR] Failed to decode query request JSON: %v", err)
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		log.Printf("[ERROR] Empty query in request")
		h.writeErrorResponse(w, http.StatusBadRequest, "Query is required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = h.service.CreateSession()
	}

	answer, sources, err := h.service.Query(r.Context(), req.Query, sessionID)
	if err != nil {
		log.Printf("[ERROR] Query processing failed: %v", err)
		if errors.Is(err, rag.ErrLLMTransport) {
			h.writeErrorResponse(w, http.StatusBadGateway, "Upstream model request failed")
			return
		}
		h.writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Printf("[INFO] Query completed successfully")
	h.writeJSONResponse(w, http.StatusOK, models.QueryResponse{
		Answer:    answer,
		Sources:   sources,
		SessionID: sessionID,
	})
}

func (h *ChatHandler) GetCourses(w http.ResponseWriter, r *http.Request) {
	log.Printf("[INFO] Received course stats request")

	stats, err := h.service.GetCourseAnalytics()
	if err != nil {
		log.Printf("[ERROR] Failed to load course stats: %v", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSONResponse(w, http.StatusOK, stats)
}

func (h *ChatHandler) ClearSession(w http.ResponseWriter, r *http.Request) {
	log.Printf("[INFO] Received session clear request")

	var req models.ClearSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[ERROR] Failed to decode session clear request JSON: %v", err)
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	if req.SessionID == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "Session ID is required")
		return
	}

	h.service.ClearSession(req.SessionID)
	h.writeJSONResponse(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *ChatHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (h *ChatHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
