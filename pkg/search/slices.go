package search

import (
	"context"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// localContentLimit caps the content carried by a degraded local slice
// when the chunk detail lookup fails.
const localContentLimit = 500

// ChunkDetail is the canonical record behind a local search result.
type ChunkDetail struct {
	ChunkID   string
	Title     string
	Content   string
	Summary   string
	SourceURI string
}

// ChunkStore resolves chunk ids to their canonical detail records in a
// single batched lookup.
type ChunkStore interface {
	GetChunks(ctx context.Context, ids []string) (map[string]ChunkDetail, error)
}

// SliceBuilder merges and deduplicates search results into
// citation-ready slices.
type SliceBuilder struct {
	chunks ChunkStore
	logger zerolog.Logger
}

// NewSliceBuilder creates a slice builder. chunks may be nil, in which
// case local results degrade to their own truncated content.
func NewSliceBuilder(chunks ChunkStore, logger zerolog.Logger) *SliceBuilder {
	return &SliceBuilder{
		chunks: chunks,
		logger: logger.With().Str("module", "slices").Logger(),
	}
}

// Build converts the accumulated results of one intent into a set of
// unique slices. Local results are enriched by a batched chunk lookup;
// on lookup failure they degrade to the result's own truncated content
// rather than being dropped. Output order is unspecified aside from
// being deterministic for a given input.
func (b *SliceBuilder) Build(ctx context.Context, results []Result) []Slice {
	if len(results) == 0 {
		return nil
	}

	var localIDs []string
	for _, r := range results {
		if r.Source == SourceLocal && r.ChunkID != "" {
			localIDs = append(localIDs, r.ChunkID)
		}
	}

	details := map[string]ChunkDetail{}
	if len(localIDs) > 0 && b.chunks != nil {
		fetched, err := b.chunks.GetChunks(ctx, localIDs)
		if err != nil {
			b.logger.Warn().Err(err).Int("chunks", len(localIDs)).
				Msg("Chunk detail lookup failed, degrading to raw results")
		} else {
			details = fetched
		}
	}

	byKey := map[string]Slice{}
	var order []string

	for _, r := range results {
		slice := b.toSlice(r, details)
		key := dedupKey(r, slice)

		existing, seen := byKey[key]
		if !seen {
			byKey[key] = slice
			order = append(order, key)
			continue
		}
		// Higher score wins; ties keep the first seen.
		if slice.Score > existing.Score {
			byKey[key] = slice
		}
	}

	out := make([]Slice, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}

func (b *SliceBuilder) toSlice(r Result, details map[string]ChunkDetail) Slice {
	if r.Source == SourceRemote {
		return Slice{
			ID:         r.ID,
			Title:      r.Title,
			SourceURI:  r.URL,
			Content:    truncate(r.Content, localContentLimit),
			SourceType: "web",
			Score:      r.Score,
		}
	}

	if detail, ok := details[r.ChunkID]; ok {
		title := detail.Title
		if title == "" {
			title = r.Title
		}
		return Slice{
			ID:         r.ChunkID,
			Title:      title,
			SourceURI:  detail.SourceURI,
			Content:    detail.Content,
			Summary:    detail.Summary,
			SourceType: "local",
			Score:      r.Score,
		}
	}

	// Degraded slice: detail record unavailable.
	return Slice{
		ID:         r.ChunkID,
		Title:      r.Title,
		SourceURI:  r.URL,
		Content:    truncate(r.Content, localContentLimit),
		SourceType: "local",
		Score:      r.Score,
	}
}

// dedupKey computes the identity of a slice. Two chunks of the same
// document are distinct citations, so local keys combine the source URI
// with the chunk id. Remote results pointing at the same URL are the
// same citation regardless of which query surfaced them.
func dedupKey(r Result, s Slice) string {
	switch {
	case r.Source == SourceLocal && r.ChunkID != "":
		return "local:" + s.SourceURI + "#" + r.ChunkID
	case r.Source == SourceRemote && s.SourceURI != "":
		return "remote:" + s.SourceURI
	default:
		return "id:" + s.ID
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
