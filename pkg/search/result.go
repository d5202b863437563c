package search

// Source identifies where a search result came from.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Result is a single retrieved item from a search provider.
type Result struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
	Source  Source  `json:"source"`

	// Local provenance
	ChunkID  string `json:"chunk_id,omitempty"`
	ObjectID string `json:"object_id,omitempty"`

	// Remote provenance
	URL           string `json:"url,omitempty"`
	PublishedDate string `json:"published_date,omitempty"`
	Author        string `json:"author,omitempty"`
}

// Slice is a deduplicated, display-ready citation derived from one or
// more Results. Slices are transient: built per reply, never persisted.
type Slice struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	SourceURI  string  `json:"source_uri,omitempty"`
	Content    string  `json:"content"`
	Summary    string  `json:"summary,omitempty"`
	SourceType string  `json:"source_type"` // "local" or "web"
	Score      float64 `json:"score"`
}
