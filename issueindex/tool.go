package issueindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/volary-ai/analyzer-agent/tools"
)

const resultsPerQuery = 5

type queryArgs struct {
	Queries []string `json:"queries" desc:"Natural language search queries"`
}

// Tool returns query_issues over the collection.
func (c *Collection) Tool() tools.Tool {
	return tools.MustFunc("query_issues", `Searches the repository's GitHub issues and pull requests, and the findings of
previous analyses, by title and description.

Usage notes:
- Run several queries with different phrasings, including synonyms, to find related issues
- Use separate calls for separate findings rather than mixing them in one call
- Returns the top 5 results per query
- Use this to check whether an issue has already been reported

Examples:
query_issues(queries=["memory leak in parser"])
query_issues(queries=["rate limiting", "API throttling"])`,
		func(ctx context.Context, a queryArgs) (tools.Result, error) {
			var out []string
			for i, q := range a.Queries {
				hits, err := c.Query(ctx, q, resultsPerQuery)
				if err != nil {
					return tools.Result{}, err
				}
				out = append(out, formatHits(i, q, hits))
			}
			return tools.Text(strings.Join(out, "\n")), nil
		})
}

func formatHits(i int, query string, hits []Hit) string {
	var b strings.Builder
	if i > 0 {
		b.WriteString("\n" + strings.Repeat("=", 80) + "\n")
	}
	fmt.Fprintf(&b, "\nResults for query: %s\n", query)
	if len(hits) == 0 {
		b.WriteString("\nNo matching issues found.")
	}
	for n, h := range hits {
		label := fmt.Sprintf("Issue #%d", h.Number)
		if h.Number == 0 {
			label = "Previous finding"
		}
		fmt.Fprintf(&b, "\n===== %d. [ID: %s] (distance: %.4f) ======   %s (%s): %s   URL: %s   Body:\n%s",
			n+1, h.ID, h.Distance, label, strings.ToUpper(h.State), h.Title, h.URL, h.Body)
	}
	return b.String()
}
