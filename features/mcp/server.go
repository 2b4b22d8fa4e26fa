// Package mcp exposes documentation search as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"docsearch/apps/backend/features/search"
	"docsearch/apps/backend/features/stats"
	"docsearch/apps/backend/internal/passage"
	"docsearch/apps/backend/internal/retrieval"
)

const (
	ServerName    = "docsearch"
	ServerVersion = "1.0.0"
)

type Searcher interface {
	Search(ctx context.Context, req retrieval.SearchRequest) ([]retrieval.SearchResult, error)
}

type StatsCollector interface {
	Collect(ctx context.Context) (*stats.StatsResponse, error)
}

type Server struct {
	searcher Searcher
	stats    StatsCollector
	defaults search.Defaults
	server   *mcp.Server
}

func NewServer(s Searcher, st StatsCollector, defaults search.Defaults) *Server {
	srv := &Server{
		searcher: s,
		stats:    st,
		defaults: defaults,
		server:   mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: ServerVersion}, nil),
	}
	srv.registerTools()
	return srv
}

// Handler serves the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)
}

type SearchInput struct {
	Query         string   `json:"query" jsonschema:"natural language question about Red Hat documentation"`
	Category      string   `json:"category,omitempty" jsonschema:"restrict results to one category such as security or networking"`
	Version       string   `json:"version,omitempty" jsonschema:"restrict results to one product version such as rhel9"`
	MaxResults    *int     `json:"max_results,omitempty" jsonschema:"maximum number of passages to return (1-50)"`
	MinConfidence *float64 `json:"min_confidence,omitempty" jsonschema:"minimum confidence between 0 and 1"`
}

type SearchOutput struct {
	Query   string                   `json:"query"`
	Results []retrieval.SearchResult `json:"results"`
	Count   int                      `json:"count"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_docs",
		Description: "Search indexed Red Hat documentation and return the most relevant passages with their source and page.",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "docs_stats",
		Description: "Report index size, category and version breakdowns, and query statistics.",
	}, s.handleStats)
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	filters := map[string]any{}
	if in.Category != "" {
		filters[passage.KeyCategory] = in.Category
	}
	if in.Version != "" {
		filters[passage.KeyVersion] = in.Version
	}

	req := s.defaults.ToSearchRequest(search.Request{
		Query:         in.Query,
		Filters:       filters,
		MaxResults:    in.MaxResults,
		MinConfidence: in.MinConfidence,
	})
	results, err := s.searcher.Search(ctx, req)
	if err != nil {
		slog.WarnContext(ctx, "mcp search failed", "error", err)
		return nil, SearchOutput{}, err
	}
	results = search.Present(results)

	out := SearchOutput{Query: in.Query, Results: results, Count: len(results)}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: formatResults(results)}},
	}, out, nil
}

type StatsInput struct{}

func (s *Server) handleStats(ctx context.Context, _ *mcp.CallToolRequest, _ StatsInput) (*mcp.CallToolResult, any, error) {
	st, err := s.stats.Collect(ctx)
	if err != nil {
		return nil, nil, err
	}
	body, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(body)}},
	}, st, nil
}

func formatResults(results []retrieval.SearchResult) string {
	if len(results) == 0 {
		return "No results found."
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "Result %d (Confidence: %.3f):\n", i+1, r.Confidence)
		fmt.Fprintf(&b, "Title: %s\n", r.Title)
		fmt.Fprintf(&b, "Source: %s, page %d\n", r.Source, r.Page)
		if r.Section != "" {
			fmt.Fprintf(&b, "Section: %s\n", r.Section)
		}
		fmt.Fprintf(&b, "Category: %s, Version: %s\n", r.Category, r.Version)
		fmt.Fprintf(&b, "Content:\n%s\n", r.Content)
		b.WriteString("\n---\n")
	}
	return b.String()
}
