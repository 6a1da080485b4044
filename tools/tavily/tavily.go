package tavily

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/cockroachdb/errors"
	tavilygo "github.com/diverged/tavily-go"
	tavilyModels "github.com/diverged/tavily-go/models"
	"github.com/effective-security/gohitl/tools"
)

// ToolName is the name of the web search tool
const ToolName = "webSearch"

// APIKeyEnvVarName is the environment variable with the Tavily API key
const APIKeyEnvVarName = "TAVILY_API_KEY" //nolint:gosec

// SearchRequest represents the tool input.
type SearchRequest struct {
	Query string `json:"query" jsonschema:"title=Search Query,description=The query to search web."`
}

// SearchResult represents the structure for a search response
type SearchResult struct {
	Results []tavilyModels.SearchResult `json:"results" jsonschema:"title=results,description=The results from a web search."`
	Answer  string                      `json:"answer,omitempty" jsonschema:"title=answer,description=The aggregated answer from a web search."`
}

// Searcher performs web searches with the Tavily API
type Searcher struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures the Searcher
type Option func(*Searcher)

// WithAPIKey overrides the API key from the environment
func WithAPIKey(key string) Option {
	return func(s *Searcher) {
		s.apiKey = key
	}
}

func WithBaseURL(baseURL string) Option {
	return func(s *Searcher) {
		s.baseURL = baseURL
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *Searcher) {
		s.httpClient = client
	}
}

// New returns an auto-executable web search tool
func New(opts ...Option) (*tools.Definition, error) {
	s := &Searcher{
		apiKey:     os.Getenv(APIKeyEnvVarName),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.apiKey == "" {
		return nil, errors.Errorf("%s is not set", APIKeyEnvVarName)
	}

	return tools.NewFunc(ToolName, "Search the web for up to date information.", s.Search)
}

// Search performs a search
func (s *Searcher) Search(_ context.Context, req *SearchRequest) (*SearchResult, error) {
	if req.Query == "" {
		return nil, errors.New("invalid request: empty query")
	}

	client := tavilygo.NewClient(s.apiKey)
	if s.baseURL != "" {
		client.BaseURL = s.baseURL
	}
	if s.httpClient != nil {
		client.HTTPClient = s.httpClient
	}

	searchResp, err := tavilygo.Search(client, tavilyModels.SearchRequest{
		Query:         req.Query,
		SearchDepth:   "basic",
		IncludeAnswer: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to perform search")
	}

	return &SearchResult{
		Results: searchResp.Results,
		Answer:  searchResp.Answer,
	}, nil
}

func (r *SearchResult) String() string {
	var buf bytes.Buffer
	if r.Answer != "" {
		fmt.Fprintf(&buf, "ANSWER: %s\n", r.Answer)
	}

	for _, result := range r.Results {
		fmt.Fprintf(&buf, "- URL: %s\n", result.URL)
		fmt.Fprintf(&buf, "  TITLE: %s\n", result.Title)
		fmt.Fprintf(&buf, "  SCORE: %f\n", result.Score)
		fmt.Fprintf(&buf, "  CONTENT: %s\n", result.Content)
	}

	return buf.String()
}
