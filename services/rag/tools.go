package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"coursechat/models"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/invopop/jsonschema"
	"github.com/samber/lo"
)

// Tool is the capability contract every registered tool implements. Call
// returns the text relayed back to the model; recoverable failures should be
// returned as that text, not as an error. LastSources reports the provenance
// records the most recent Call produced (each Call replaces them).
type Tool interface {
	Name() string
	Description() string
	Call(ctx context.Context, input string) (string, error)
	GetAnthropicToolSpec() anthropic.ToolInputSchemaParam
	LastSources() []models.Source
	ResetSources()
}

// CourseRetriever is the retrieval collaborator the tools consume.
type CourseRetriever interface {
	Search(ctx context.Context, query, courseName string, lessonNumber *int) (*models.SearchResults, error)
	GetLessonLink(courseTitle string, lessonNumber int) string
	GetCourseOutline(courseName string) (*models.Course, error)
	ListCourseTitles() ([]string, error)
}

func generateAnthropicSchema[T any]() anthropic.ToolInputSchemaParam {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)

	return anthropic.ToolInputSchemaParam{
		Properties: schema.Properties,
	}
}

type SearchToolInput struct {
	Query        string `json:"query" jsonschema:"required,description=What to search for in the course content"`
	CourseName   string `json:"course_name,omitempty" jsonschema:"description=Course title to search within (partial names work, e.g. 'MCP')"`
	LessonNumber *int   `json:"lesson_number,omitempty" jsonschema:"description=Specific lesson number to search within"`
}

// CourseSearchTool retrieves course passages relevant to a query, optionally
// filtered by course and lesson, and records one source per hit.
type CourseSearchTool struct {
	store       CourseRetriever
	lastSources []models.Source
}

func NewCourseSearchTool(store CourseRetriever) *CourseSearchTool {
	return &CourseSearchTool{store: store}
}

func (t *CourseSearchTool) Name() string {
	return "search_course_content"
}

func (t *CourseSearchTool) Description() string {
	return "Search course materials with smart course name matching and lesson filtering"
}

func (t *CourseSearchTool) GetAnthropicToolSpec() anthropic.ToolInputSchemaParam {
	return generateAnthropicSchema[SearchToolInput]()
}

func (t *CourseSearchTool) Call(ctx context.Context, input string) (string, error) {
	var params SearchToolInput
	if err := json.Unmarshal([]byte(input), &params); err != nil {
		return "", fmt.Errorf("failed to parse search tool input: %v", err)
	}

	if strings.TrimSpace(params.Query) == "" {
		return "", fmt.Errorf("query is required")
	}

	results, err := t.store.Search(ctx, params.Query, params.CourseName, params.LessonNumber)
	if err != nil {
		return "", fmt.Errorf("search failed: %v", err)
	}

	// Domain miss from the collaborator: relay its message verbatim.
	if results.Error != "" {
		return results.Error, nil
	}

	if results.IsEmpty() {
		return t.notFoundMessage(params), nil
	}

	return t.formatResults(results), nil
}

func (t *CourseSearchTool) notFoundMessage(params SearchToolInput) string {
	message := "No relevant content found"
	if params.CourseName != "" {
		message += fmt.Sprintf(" in course '%s'", params.CourseName)
	}
	if params.LessonNumber != nil {
		message += fmt.Sprintf(" in lesson %d", *params.LessonNumber)
	}
	return message + "."
}

func (t *CourseSearchTool) formatResults(results *models.SearchResults) string {
	blocks := make([]string, 0, len(results.Documents))
	sources := make([]models.Source, 0, len(results.Documents))

	for i, document := range results.Documents {
		meta := results.Metadata[i]

		header := meta.CourseTitle
		if meta.LessonNumber != nil {
			header += fmt.Sprintf(" - Lesson %d", *meta.LessonNumber)
		}
		blocks = append(blocks, fmt.Sprintf("[%s]\n%s", header, document))

		source := models.Source{Text: header}
		if meta.LessonNumber != nil {
			source.URL = t.store.GetLessonLink(meta.CourseTitle, *meta.LessonNumber)
		}
		sources = append(sources, source)
	}

	t.lastSources = sources
	return strings.Join(blocks, "\n\n")
}

func (t *CourseSearchTool) LastSources() []models.Source {
	return t.lastSources
}

func (t *CourseSearchTool) ResetSources() {
	t.lastSources = nil
}

type OutlineToolInput struct {
	CourseName string `json:"course_name" jsonschema:"required,description=Course title to get the outline for (partial names work)"`
}

// CourseOutlineTool renders a course's title, link and ordered lesson list.
// Outline retrieval is structural, so it records no sources.
type CourseOutlineTool struct {
	store CourseRetriever
}

func NewCourseOutlineTool(store CourseRetriever) *CourseOutlineTool {
	return &CourseOutlineTool{store: store}
}

func (t *CourseOutlineTool) Name() string {
	return "get_course_outline"
}

func (t *CourseOutlineTool) Description() string {
	return "Get a course outline including the course title, link, and the full list of lessons"
}

func (t *CourseOutlineTool) GetAnthropicToolSpec() anthropic.ToolInputSchemaParam {
	return generateAnthropicSchema[OutlineToolInput]()
}

func (t *CourseOutlineTool) Call(ctx context.Context, input string) (string, error) {
	var params OutlineToolInput
	if err := json.Unmarshal([]byte(input), &params); err != nil {
		return "", fmt.Errorf("failed to parse outline tool input: %v", err)
	}

	course, err := t.store.GetCourseOutline(params.CourseName)
	if err != nil {
		return fmt.Sprintf("No course found matching '%s'", params.CourseName), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Course: %s\n", course.Title)
	fmt.Fprintf(&b, "Link: %s\n", course.CourseLink)
	b.WriteString("Lessons:\n")

	lines := lo.Map(course.Lessons, func(lesson models.Lesson, _ int) string {
		return fmt.Sprintf("  %d: %s", lesson.Number, lesson.Title)
	})
	b.WriteString(strings.Join(lines, "\n"))

	return b.String(), nil
}

func (t *CourseOutlineTool) LastSources() []models.Source {
	return nil
}

func (t *CourseOutlineTool) ResetSources() {}
