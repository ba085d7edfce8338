package vectorstore

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"coursechat/db"
	"coursechat/models"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/pinecone-io/go-pinecone/v3/pinecone"
	"github.com/samber/lo"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"google.golang.org/protobuf/types/known/structpb"
)

const contentNamespace = "course-content"

type Service struct {
	client     *pinecone.Client
	embedder   embeddings.Embedder
	catalog    db.CourseRepository
	indexName  string
	maxResults int
}

func NewService(pineconeAPIKey, openaiAPIKey, indexName string, maxResults int, catalog db.CourseRepository) (*Service, error) {
	log.Printf("[INFO] Initializing vector store service")

	pc, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: pineconeAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	llm, err := openai.New(
		openai.WithModel("gpt-4o-mini"),
		openai.WithToken(openaiAPIKey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	service := &Service{
		client:     pc,
		embedder:   embedder,
		catalog:    catalog,
		indexName:  indexName,
		maxResults: maxResults,
	}

	log.Printf("[INFO] Vector store service initialized successfully")
	return service, nil
}

// Search runs a similarity query against the content index, optionally
// restricted to a course (fuzzy-matched against catalog titles) and a lesson
// number. An unresolvable course name is a domain miss reported via
// SearchResults.Error, not a Go error.
func (s *Service) Search(ctx context.Context, query, courseName string, lessonNumber *int) (*models.SearchResults, error) {
	log.Printf("[INFO] Searching course content: query=%q course=%q", query, courseName)

	resolvedTitle := ""
	if courseName != "" {
		resolvedTitle = s.ResolveCourseName(courseName)
		if resolvedTitle == "" {
			log.Printf("[WARN] No course found matching %q", courseName)
			return &models.SearchResults{Error: fmt.Sprintf("No course found matching '%s'", courseName)}, nil
		}
	}

	queryEmbeddings, err := s.embedder.EmbedDocuments(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	idxDesc, err := s.client.DescribeIndex(ctx, s.indexName)
	if err != nil {
		return nil, fmt.Errorf("failed to describe index: %w", err)
	}

	idxConn, err := s.client.Index(pinecone.NewIndexConnParams{
		Host:      idxDesc.Host,
		Namespace: contentNamespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index connection: %w", err)
	}

	filter, err := buildMetadataFilter(resolvedTitle, lessonNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata filter: %w", err)
	}

	result, err := idxConn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          queryEmbeddings[0],
		TopK:            uint32(s.maxResults),
		MetadataFilter:  filter,
		IncludeValues:   false,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}

	results := &models.SearchResults{}
	for _, match := range result.Matches {
		if match.Vector.Metadata == nil {
			continue
		}
		metadata := match.Vector.Metadata.AsMap()

		content, ok := metadata["content"].(string)
		if !ok || content == "" {
			continue
		}

		chunkMeta := models.ChunkMetadata{}
		if title, ok := metadata["course_title"].(string); ok {
			chunkMeta.CourseTitle = title
		}
		if lesson, ok := metadata["lesson_number"].(float64); ok {
			n := int(lesson)
			chunkMeta.LessonNumber = &n
		}
		if idx, ok := metadata["chunk_index"].(float64); ok {
			chunkMeta.ChunkIndex = int(idx)
		}

		results.Documents = append(results.Documents, content)
		results.Metadata = append(results.Metadata, chunkMeta)
		results.Distances = append(results.Distances, match.Score)
	}

	log.Printf("[INFO] Retrieved %d content chunks", len(results.Documents))
	return results, nil
}

// ResolveCourseName maps a possibly partial or misspelled course name to an
// exact catalog title. Returns "" when nothing matches.
func (s *Service) ResolveCourseName(name string) string {
	titles, err := s.catalog.ListCourseTitles()
	if err != nil {
		log.Printf("[ERROR] Failed to list course titles: %v", err)
		return ""
	}

	for _, title := range titles {
		if strings.EqualFold(title, name) {
			return title
		}
	}

	// Partial titles like "MCP" should match "MCP Course".
	for _, title := range titles {
		if strings.Contains(strings.ToLower(title), strings.ToLower(name)) {
			return title
		}
	}

	ranks := fuzzy.RankFindNormalizedFold(name, titles)
	if len(ranks) == 0 {
		return ""
	}
	sort.Sort(ranks)
	return ranks[0].Target
}

func (s *Service) GetLessonLink(courseTitle string, lessonNumber int) string {
	course, err := s.catalog.GetCourseByTitle(courseTitle)
	if err != nil {
		log.Printf("[ERROR] Failed to look up course %q for lesson link: %v", courseTitle, err)
		return ""
	}

	for _, lesson := range course.Lessons {
		if lesson.Number == lessonNumber {
			return lesson.Link
		}
	}
	return ""
}

func (s *Service) GetCourseOutline(courseName string) (*models.Course, error) {
	title := s.ResolveCourseName(courseName)
	if title == "" {
		return nil, fmt.Errorf("no course found matching '%s'", courseName)
	}
	return s.catalog.GetCourseByTitle(title)
}

func (s *Service) ListCourseTitles() ([]string, error) {
	return s.catalog.ListCourseTitles()
}

func buildMetadataFilter(courseTitle string, lessonNumber *int) (*structpb.Struct, error) {
	conditions := map[string]any{}
	if courseTitle != "" {
		conditions["course_title"] = courseTitle
	}
	if lessonNumber != nil {
		conditions["lesson_number"] = *lessonNumber
	}

	if len(conditions) == 0 {
		return nil, nil
	}

	fields := lo.MapValues(conditions, func(value any, _ string) any {
		return map[string]any{"$eq": value}
	})

	return structpb.NewStruct(fields)
}
