// Package websearch queries a remote web search API and adapts its
// hits into search results.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/knollapp/knoll/pkg/search"
)

// DefaultTimeout bounds one remote search request.
const DefaultTimeout = 10 * time.Second

// Client calls the remote search endpoint.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a web search client.
func NewClient(endpoint, apiKey string, logger zerolog.Logger) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("search endpoint is required")
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: logger.With().Str("module", "websearch").Logger(),
	}, nil
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"num_results,omitempty"`
}

type searchResponse struct {
	Results []struct {
		ID            string  `json:"id"`
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Text          string  `json:"text"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"published_date"`
		Author        string  `json:"author"`
	} `json:"results"`
}

// Search runs one remote query and returns its hits as remote results.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]search.Result, error) {
	body, err := json.Marshal(searchRequest{Query: query, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call search API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search API error (status %d): %s", resp.StatusCode, string(data))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]search.Result, 0, len(parsed.Results))
	for _, hit := range parsed.Results {
		id := hit.ID
		if id == "" {
			id = hit.URL
		}
		results = append(results, search.Result{
			ID:            id,
			Title:         hit.Title,
			Content:       hit.Text,
			Score:         hit.Score,
			Source:        search.SourceRemote,
			URL:           hit.URL,
			PublishedDate: hit.PublishedDate,
			Author:        hit.Author,
		})
	}

	c.logger.Debug().Str("query", query).Int("results", len(results)).
		Msg("Web search completed")
	return results, nil
}
