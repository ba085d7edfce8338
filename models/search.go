package models

// ChunkMetadata describes where a retrieved passage came from.
// LessonNumber is nil for course-level content that belongs to no lesson.
type ChunkMetadata struct {
	CourseTitle  string
	LessonNumber *int
	ChunkIndex   int
}

// SearchResults carries hits in nearest-first order. A domain-level miss
// (e.g. an unresolvable course name) is reported via Error rather than a Go
// error so it can be relayed back to the model as tool result text.
type SearchResults struct {
	Documents []string
	Metadata  []ChunkMetadata
	Distances []float32
	Error     string
}

func (r *SearchResults) IsEmpty() bool {
	return len(r.Documents) == 0
}

// Source links part of an answer to the passage that grounded it.
type Source struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}
