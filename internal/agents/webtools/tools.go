package webtools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackzampolin/tanjia/internal/agent"
)

const (
	FetchPageTool = "fetch_page"
	WebSearchTool = "web_search"
)

var fetchPageParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"url": {"type": "string", "description": "Absolute URL or bare domain to fetch"}
	},
	"required": ["url"]
}`)

var webSearchParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "Search query"}
	},
	"required": ["query"]
}`)

// fetchOutput is what the model sees for fetch_page.
type fetchOutput struct {
	*Page
	Error string `json:"error,omitempty"`
}

// Tools builds the research tool set. web_search is only offered when the
// searcher is configured.
func Tools(fetcher *Fetcher, searcher *Searcher) *agent.ToolSet {
	set := agent.NewToolSet()
	if fetcher != nil {
		set.Add(FetchPageTool,
			"Fetch a web page or PDF and return its title and plain text.",
			fetchPageParams, agent.ToolKindFetch,
			func(ctx context.Context, args map[string]any) (string, error) {
				u, _ := args["url"].(string)
				page, err := fetcher.FetchPage(ctx, u)
				if err != nil && page == nil {
					return "", err
				}
				out := fetchOutput{Page: page}
				if err != nil {
					out.Error = err.Error()
				}
				return marshal(out)
			})
	}
	if searcher.Configured() {
		set.Add(WebSearchTool,
			"Search the web and return result titles, URLs and snippets.",
			webSearchParams, agent.ToolKindSearch,
			func(ctx context.Context, args map[string]any) (string, error) {
				q, _ := args["query"].(string)
				results, err := searcher.Search(ctx, q)
				if err != nil {
					return "", err
				}
				return marshal(map[string]any{"query": q, "results": results})
			})
	}
	return set
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal tool output: %w", err)
	}
	return string(b), nil
}
