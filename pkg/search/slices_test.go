package search

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChunkStore struct {
	details map[string]ChunkDetail
	err     error
	calls   int
}

func (f *fakeChunkStore) GetChunks(_ context.Context, ids []string) (map[string]ChunkDetail, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]ChunkDetail)
	for _, id := range ids {
		if d, ok := f.details[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

func TestBuildEnrichesLocalResults(t *testing.T) {
	store := &fakeChunkStore{details: map[string]ChunkDetail{
		"notes.md#0": {
			ChunkID:   "notes.md#0",
			Title:     "Meeting Notes",
			Content:   "full canonical content",
			SourceURI: "notes.md",
		},
	}}
	builder := NewSliceBuilder(store, zerolog.Nop())

	slices := builder.Build(context.Background(), []Result{
		{ID: "notes.md#0", ChunkID: "notes.md#0", Source: SourceLocal, Score: 0.9, Content: "raw"},
	})

	require.Len(t, slices, 1)
	assert.Equal(t, "Meeting Notes", slices[0].Title)
	assert.Equal(t, "full canonical content", slices[0].Content)
	assert.Equal(t, "notes.md", slices[0].SourceURI)
	assert.Equal(t, "local", slices[0].SourceType)
	assert.Equal(t, 1, store.calls)
}

func TestBuildDegradesWhenChunkLookupFails(t *testing.T) {
	store := &fakeChunkStore{err: fmt.Errorf("db locked")}
	builder := NewSliceBuilder(store, zerolog.Nop())

	long := strings.Repeat("x", 700)
	slices := builder.Build(context.Background(), []Result{
		{ID: "a#0", ChunkID: "a#0", Source: SourceLocal, Score: 0.5, Title: "A", Content: long, URL: "a.md"},
	})

	require.Len(t, slices, 1)
	assert.Equal(t, "A", slices[0].Title)
	assert.Len(t, slices[0].Content, localContentLimit)
	assert.Equal(t, "local", slices[0].SourceType)
}

func TestBuildDeduplicatesRemoteByURL(t *testing.T) {
	builder := NewSliceBuilder(nil, zerolog.Nop())

	slices := builder.Build(context.Background(), []Result{
		{ID: "r1", Source: SourceRemote, URL: "https://example.com/a", Score: 0.4, Title: "first"},
		{ID: "r2", Source: SourceRemote, URL: "https://example.com/a", Score: 0.8, Title: "second"},
		{ID: "r3", Source: SourceRemote, URL: "https://example.com/b", Score: 0.3, Title: "other"},
	})

	require.Len(t, slices, 2)
	// Higher score replaced the first entry but kept its position.
	assert.Equal(t, "second", slices[0].Title)
	assert.Equal(t, "other", slices[1].Title)
}

func TestBuildTieKeepsFirstSeen(t *testing.T) {
	builder := NewSliceBuilder(nil, zerolog.Nop())

	slices := builder.Build(context.Background(), []Result{
		{ID: "r1", Source: SourceRemote, URL: "https://example.com/a", Score: 0.5, Title: "first"},
		{ID: "r2", Source: SourceRemote, URL: "https://example.com/a", Score: 0.5, Title: "second"},
	})

	require.Len(t, slices, 1)
	assert.Equal(t, "first", slices[0].Title)
}

func TestBuildLocalChunksOfSameDocumentAreDistinct(t *testing.T) {
	store := &fakeChunkStore{details: map[string]ChunkDetail{
		"doc.md#0": {ChunkID: "doc.md#0", SourceURI: "doc.md", Content: "chunk zero"},
		"doc.md#1": {ChunkID: "doc.md#1", SourceURI: "doc.md", Content: "chunk one"},
	}}
	builder := NewSliceBuilder(store, zerolog.Nop())

	slices := builder.Build(context.Background(), []Result{
		{ID: "doc.md#0", ChunkID: "doc.md#0", Source: SourceLocal, Score: 0.9},
		{ID: "doc.md#1", ChunkID: "doc.md#1", Source: SourceLocal, Score: 0.8},
	})

	assert.Len(t, slices, 2)
}

func TestBuildLocalAndRemoteNeverCollide(t *testing.T) {
	store := &fakeChunkStore{details: map[string]ChunkDetail{
		"page#0": {ChunkID: "page#0", SourceURI: "https://example.com/a", Content: "saved copy"},
	}}
	builder := NewSliceBuilder(store, zerolog.Nop())

	slices := builder.Build(context.Background(), []Result{
		{ID: "page#0", ChunkID: "page#0", Source: SourceLocal, Score: 0.9},
		{ID: "r1", Source: SourceRemote, URL: "https://example.com/a", Score: 0.8},
	})

	assert.Len(t, slices, 2)
}

func TestBuildEmptyInput(t *testing.T) {
	builder := NewSliceBuilder(nil, zerolog.Nop())
	assert.Nil(t, builder.Build(context.Background(), nil))
}

func TestBuildIsIdempotentOverRepeatedResults(t *testing.T) {
	store := &fakeChunkStore{details: map[string]ChunkDetail{
		"doc.md#0": {ChunkID: "doc.md#0", SourceURI: "doc.md", Content: "chunk zero"},
	}}
	builder := NewSliceBuilder(store, zerolog.Nop())

	results := []Result{
		{ID: "doc.md#0", ChunkID: "doc.md#0", Source: SourceLocal, Score: 0.9},
		{ID: "r1", Source: SourceRemote, URL: "https://example.com/a", Score: 0.7, Title: "web hit"},
	}

	once := builder.Build(context.Background(), results)
	doubled := builder.Build(context.Background(), append(append([]Result{}, results...), results...))

	assert.Equal(t, once, doubled)
}

func TestBuildTruncatesOnRuneBoundary(t *testing.T) {
	store := &fakeChunkStore{err: fmt.Errorf("db locked")}
	builder := NewSliceBuilder(store, zerolog.Nop())

	// Three-byte runes misalign with the byte limit.
	long := strings.Repeat("世", 200)
	slices := builder.Build(context.Background(), []Result{
		{ID: "a#0", ChunkID: "a#0", Source: SourceLocal, Score: 0.5, Content: long, URL: "a.md"},
	})

	require.Len(t, slices, 1)
	assert.True(t, utf8.ValidString(slices[0].Content))
	assert.LessOrEqual(t, len(slices[0].Content), localContentLimit)
}
