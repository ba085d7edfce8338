package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"coursechat/config"
	"coursechat/db"
	"coursechat/models"

	"github.com/pinecone-io/go-pinecone/v3/pinecone"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/textsplitter"
	"google.golang.org/protobuf/types/known/structpb"
)

const contentNamespace = "course-content"

// lessonSection is one "Lesson N: Title" block of a course script, with its
// transcript text collected until the next marker.
type lessonSection struct {
	Number  int
	Title   string
	Link    string
	Content string
}

func main() {
	log.Printf("[INFO] Starting course document indexing")

	cfg := config.Load()

	if cfg.DatabaseURL == "" {
		log.Fatal("[ERROR] DB_URL environment variable is required")
	}

	if cfg.PineconeAPIKey == "" {
		log.Fatal("[ERROR] PINECONE_API_KEY environment variable is required")
	}

	if cfg.OpenAIAPIKey == "" {
		log.Fatal("[ERROR] OPENAI_API_KEY environment variable is required")
	}

	courseRepo, err := db.NewPostgresCourseRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[ERROR] Failed to initialize course database: %v", err)
	}
	defer courseRepo.Close()

	llm, err := openai.New(
		openai.WithModel("gpt-4o-mini"),
		openai.WithToken(cfg.OpenAIAPIKey),
	)
	if err != nil {
		log.Fatalf("[ERROR] Failed to create OpenAI client: %v", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		log.Fatalf("[ERROR] Failed to create embedder: %v", err)
	}

	pc, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: cfg.PineconeAPIKey,
	})
	if err != nil {
		log.Fatalf("[ERROR] Failed to create Pinecone client: %v", err)
	}

	if err := ensurePineconeIndex(pc, cfg.PineconeIndexName); err != nil {
		log.Fatalf("[ERROR] Failed to ensure Pinecone index: %v", err)
	}

	docs, err := listCourseDocuments(cfg.DocsPath)
	if err != nil {
		log.Fatalf("[ERROR] Failed to list course documents: %v", err)
	}
	if len(docs) == 0 {
		log.Fatalf("[ERROR] No course documents found in %s", cfg.DocsPath)
	}

	log.Printf("[INFO] Found %d course documents in %s", len(docs), cfg.DocsPath)

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(cfg.ChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
	)

	for i, path := range docs {
		log.Printf("[INFO] Processing document %d/%d: %s", i+1, len(docs), filepath.Base(path))

		if err := processCourseDocument(pc, cfg.PineconeIndexName, courseRepo, embedder, splitter, path); err != nil {
			log.Printf("[ERROR] Failed to process %s: %v", filepath.Base(path), err)
			continue
		}

		log.Printf("[INFO] Successfully processed %s", filepath.Base(path))
	}

	log.Printf("[INFO] Course document indexing completed")
}

func listCourseDocuments(docsPath string) ([]string, error) {
	entries, err := os.ReadDir(docsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read docs directory: %w", err)
	}

	var docs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".txt", ".md":
			docs = append(docs, filepath.Join(docsPath, entry.Name()))
		}
	}

	sort.Strings(docs)
	return docs, nil
}

func processCourseDocument(pc *pinecone.Client, indexName string, courseRepo db.CourseRepository, embedder embeddings.Embedder, splitter textsplitter.TextSplitter, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	course, sections, err := parseCourseDocument(string(raw))
	if err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}

	chunks, err := buildCourseChunks(course.Title, sections, splitter)
	if err != nil {
		return fmt.Errorf("failed to chunk document: %w", err)
	}
	log.Printf("[INFO] Parsed course %q: %d lessons, %d chunks", course.Title, len(course.Lessons), len(chunks))

	if err := courseRepo.UpsertCourse(course); err != nil {
		return fmt.Errorf("failed to upsert course metadata: %w", err)
	}

	if err := deleteExistingVectors(pc, indexName, course.Title); err != nil {
		return fmt.Errorf("failed to delete existing vectors: %w", err)
	}

	return upsertCourseChunks(pc, indexName, embedder, chunks)
}

// parseCourseDocument reads a course script: a header of "Course Title:",
// "Course Link:" and "Course Instructor:" lines, then "Lesson N: Title"
// sections each optionally followed by a "Lesson Link:" line.
func parseCourseDocument(raw string) (*models.Course, []lessonSection, error) {
	lines := strings.Split(raw, "\n")
	lessonRegex := regexp.MustCompile(`^Lesson\s+(\d+):\s*(.*)$`)

	course := &models.Course{}
	var sections []lessonSection
	var current *lessonSection
	var preamble strings.Builder
	inHeader := true

	flush := func() {
		if current != nil {
			current.Content = strings.TrimSpace(current.Content)
			sections = append(sections, *current)
			current = nil
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if match := lessonRegex.FindStringSubmatch(trimmed); match != nil {
			flush()
			inHeader = false
			number, err := strconv.Atoi(match[1])
			if err != nil {
				return nil, nil, fmt.Errorf("invalid lesson number in %q: %w", trimmed, err)
			}
			current = &lessonSection{Number: number, Title: strings.TrimSpace(match[2])}
			continue
		}

		if current != nil {
			if link, ok := strings.CutPrefix(trimmed, "Lesson Link:"); ok && current.Link == "" && strings.TrimSpace(current.Content) == "" {
				current.Link = strings.TrimSpace(link)
				continue
			}
			current.Content += line + "\n"
			continue
		}

		if inHeader {
			switch {
			case strings.HasPrefix(trimmed, "Course Title:"):
				course.Title = strings.TrimSpace(strings.TrimPrefix(trimmed, "Course Title:"))
				continue
			case strings.HasPrefix(trimmed, "Course Link:"):
				course.CourseLink = strings.TrimSpace(strings.TrimPrefix(trimmed, "Course Link:"))
				continue
			case strings.HasPrefix(trimmed, "Course Instructor:"):
				course.Instructor = strings.TrimSpace(strings.TrimPrefix(trimmed, "Course Instructor:"))
				continue
			}
		}

		preamble.WriteString(line + "\n")
	}
	flush()

	if course.Title == "" {
		return nil, nil, fmt.Errorf("document has no 'Course Title:' header")
	}

	for _, section := range sections {
		course.Lessons = append(course.Lessons, models.Lesson{
			Number: section.Number,
			Title:  section.Title,
			Link:   section.Link,
		})
	}

	// A script with no lesson markers is still indexable as course-level text.
	if len(sections) == 0 {
		content := strings.TrimSpace(preamble.String())
		if content == "" {
			return nil, nil, fmt.Errorf("document %q has no content", course.Title)
		}
		sections = append(sections, lessonSection{Number: -1, Content: content})
	}

	return course, sections, nil
}

// buildCourseChunks splits each lesson's transcript and prefixes every chunk
// with its course and lesson so embeddings stay searchable out of context.
// Chunk indexes run continuously across the whole course.
func buildCourseChunks(courseTitle string, sections []lessonSection, splitter textsplitter.TextSplitter) ([]models.CourseChunk, error) {
	var chunks []models.CourseChunk
	chunkIndex := 0

	for _, section := range sections {
		if strings.TrimSpace(section.Content) == "" {
			continue
		}

		pieces, err := splitter.SplitText(section.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to split lesson %d: %w", section.Number, err)
		}

		for _, piece := range pieces {
			var content string
			var lessonNumber *int
			if section.Number >= 0 {
				n := section.Number
				lessonNumber = &n
				content = fmt.Sprintf("Course %s Lesson %d content: %s", courseTitle, section.Number, piece)
			} else {
				content = fmt.Sprintf("Course %s content: %s", courseTitle, piece)
			}

			chunks = append(chunks, models.CourseChunk{
				ID:           fmt.Sprintf("%s_%d", strings.ReplaceAll(courseTitle, " ", "_"), chunkIndex),
				CourseTitle:  courseTitle,
				LessonNumber: lessonNumber,
				ChunkIndex:   chunkIndex,
				Content:      content,
			})
			chunkIndex++
		}
	}

	return chunks, nil
}

func ensurePineconeIndex(pc *pinecone.Client, indexName string) error {
	ctx := context.Background()

	indexes, err := pc.ListIndexes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list indexes: %w", err)
	}

	for _, idx := range indexes {
		if idx.Name == indexName {
			log.Printf("[INFO] Index %s already exists", indexName)
			return nil
		}
	}

	log.Printf("[INFO] Creating Pinecone index: %s", indexName)
	dimension := int32(1536) // OpenAI ada-002 embedding dimension
	deletionProtection := pinecone.DeletionProtectionDisabled
	metric := pinecone.Cosine

	_, err = pc.CreateServerlessIndex(ctx, &pinecone.CreateServerlessIndexRequest{
		Name:               indexName,
		Dimension:          &dimension,
		Metric:             &metric,
		Cloud:              pinecone.Aws,
		Region:             "us-east-1",
		DeletionProtection: &deletionProtection,
		Tags:               &pinecone.IndexTags{"environment": "development", "project": "coursechat-indexing"},
	})
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	for {
		idx, err := pc.DescribeIndex(ctx, indexName)
		if err != nil {
			return fmt.Errorf("failed to describe index: %w", err)
		}
		if idx.Status.Ready {
			log.Printf("[INFO] Index %s is ready", indexName)
			break
		}
		log.Printf("[INFO] Waiting for index %s to be ready...", indexName)
		time.Sleep(10 * time.Second)
	}

	return nil
}

func deleteExistingVectors(pc *pinecone.Client, indexName, courseTitle string) error {
	ctx := context.Background()

	idxConn, err := contentConnection(pc, indexName)
	if err != nil {
		return err
	}

	prefix := strings.ReplaceAll(courseTitle, " ", "_") + "_"
	limit := uint32(100)

	listResp, err := idxConn.ListVectors(ctx, &pinecone.ListVectorsRequest{
		Prefix: &prefix,
		Limit:  &limit,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Namespace not found") {
			log.Printf("[INFO] Namespace does not exist yet, nothing to delete for %q", courseTitle)
			return nil
		}
		return fmt.Errorf("failed to list vectors: %w", err)
	}

	if len(listResp.VectorIds) == 0 {
		log.Printf("[INFO] No existing vectors found for course %q", courseTitle)
		return nil
	}

	log.Printf("[INFO] Replacing %d existing vectors for course %q", len(listResp.VectorIds), courseTitle)

	for listResp.NextPaginationToken != nil || len(listResp.VectorIds) > 0 {
		vectorIDs := make([]string, 0, len(listResp.VectorIds))
		for _, vectorID := range listResp.VectorIds {
			if vectorID != nil {
				vectorIDs = append(vectorIDs, *vectorID)
			}
		}

		if len(vectorIDs) > 0 {
			if err := idxConn.DeleteVectorsById(ctx, vectorIDs); err != nil {
				return fmt.Errorf("failed to delete vector batch: %w", err)
			}
			log.Printf("[INFO] Deleted %d vectors for course %q", len(vectorIDs), courseTitle)
		}

		if listResp.NextPaginationToken == nil {
			break
		}
		listResp, err = idxConn.ListVectors(ctx, &pinecone.ListVectorsRequest{
			Prefix:          &prefix,
			Limit:           &limit,
			PaginationToken: listResp.NextPaginationToken,
		})
		if err != nil {
			return fmt.Errorf("failed to list next batch of vectors: %w", err)
		}
	}

	return nil
}

func upsertCourseChunks(pc *pinecone.Client, indexName string, embedder embeddings.Embedder, chunks []models.CourseChunk) error {
	ctx := context.Background()

	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}

	log.Printf("[INFO] Generating embeddings for %d chunks", len(chunks))
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}

	idxConn, err := contentConnection(pc, indexName)
	if err != nil {
		return err
	}

	pineconeVectors := make([]*pinecone.Vector, 0, len(chunks))
	for i, chunk := range chunks {
		metadata := map[string]any{
			"course_title": chunk.CourseTitle,
			"chunk_index":  chunk.ChunkIndex,
			"content":      chunk.Content,
		}
		if chunk.LessonNumber != nil {
			metadata["lesson_number"] = *chunk.LessonNumber
		}

		metadataStruct, err := structpb.NewStruct(metadata)
		if err != nil {
			return fmt.Errorf("failed to create metadata struct for chunk %s: %w", chunk.ID, err)
		}

		pineconeVectors = append(pineconeVectors, &pinecone.Vector{
			Id:       chunk.ID,
			Values:   &vectors[i],
			Metadata: metadataStruct,
		})
	}

	batchSize := 10
	for i := 0; i < len(pineconeVectors); i += batchSize {
		end := i + batchSize
		if end > len(pineconeVectors) {
			end = len(pineconeVectors)
		}

		count, err := idxConn.UpsertVectors(ctx, pineconeVectors[i:end])
		if err != nil {
			return fmt.Errorf("failed to upsert vector batch: %w", err)
		}
		log.Printf("[INFO] Successfully upserted %d vectors (batch %d)", count, i/batchSize+1)
	}

	return nil
}

func contentConnection(pc *pinecone.Client, indexName string) (*pinecone.IndexConnection, error) {
	ctx := context.Background()

	idxDesc, err := pc.DescribeIndex(ctx, indexName)
	if err != nil {
		return nil, fmt.Errorf("failed to describe index: %w", err)
	}

	idxConn, err := pc.Index(pinecone.NewIndexConnParams{
		Host:      idxDesc.Host,
		Namespace: contentNamespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index connection: %w", err)
	}

	return idxConn, nil
}
