package rag

import (
	"context"
	"fmt"
	"log"

	"coursechat/models"
)

type responseGenerator interface {
	GenerateResponse(ctx context.Context, query, conversationHistory string, registry *ToolRegistry, maxRounds int) (string, error)
}

type sessionStore interface {
	CreateSession() string
	GetConversationHistory(sessionID string) string
	AddExchange(sessionID, userText, assistantText string)
	ClearSession(sessionID string)
}

// Service is the query orchestrator: it merges session history, runs the
// response generator with the tool registry attached, persists the new
// exchange, and returns the answer plus the sources gathered during this
// query only.
type Service struct {
	generator responseGenerator
	sessions  sessionStore
	retriever CourseRetriever
	registry  *ToolRegistry
	maxRounds int
}

func NewService(generator responseGenerator, sessions sessionStore, retriever CourseRetriever, maxRounds int) (*Service, error) {
	registry := NewToolRegistry()
	if err := registry.Register(NewCourseSearchTool(retriever)); err != nil {
		return nil, fmt.Errorf("failed to register search tool: %w", err)
	}
	if err := registry.Register(NewCourseOutlineTool(retriever)); err != nil {
		return nil, fmt.Errorf("failed to register outline tool: %w", err)
	}

	if maxRounds <= 0 {
		maxRounds = 2
	}

	return &Service{
		generator: generator,
		sessions:  sessions,
		retriever: retriever,
		registry:  registry,
		maxRounds: maxRounds,
	}, nil
}

// Query answers one user question. An empty sessionID means no history is
// read and no exchange is written; tool availability never depends on it.
func (s *Service) Query(ctx context.Context, query, sessionID string) (string, []models.Source, error) {
	log.Printf("[INFO] Processing query (session=%q)", sessionID)

	history := ""
	if sessionID != "" {
		history = s.sessions.GetConversationHistory(sessionID)
	}

	prompt := fmt.Sprintf(QueryTemplate, query)

	// Sources belong to this query alone. The reset must also run when
	// generation fails partway, after tools have already recorded sources.
	defer s.registry.ResetSources()

	answer, err := s.generator.GenerateResponse(ctx, prompt, history, s.registry, s.maxRounds)
	if err != nil {
		log.Printf("[ERROR] Response generation failed: %v", err)
		return "", nil, err
	}

	sources := s.registry.LastSources()

	if sessionID != "" {
		s.sessions.AddExchange(sessionID, query, answer)
	}

	log.Printf("[INFO] Query completed with %d sources", len(sources))
	return answer, sources, nil
}

func (s *Service) CreateSession() string {
	return s.sessions.CreateSession()
}

func (s *Service) ClearSession(sessionID string) {
	s.sessions.ClearSession(sessionID)
}

func (s *Service) GetCourseAnalytics() (*models.CourseStats, error) {
	titles, err := s.retriever.ListCourseTitles()
	if err != nil {
		return nil, fmt.Errorf("failed to list course titles: %w", err)
	}

	return &models.CourseStats{
		TotalCourses: len(titles),
		CourseTitles: titles,
	}, nil
}
