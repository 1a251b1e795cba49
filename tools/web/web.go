// Package web provides the web search and page fetch tools used by the web
// answers sub-agent.
package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/volary-ai/analyzer-agent/errors"
	"github.com/volary-ai/analyzer-agent/tools"
)

const (
	// DefaultSearchURL is DuckDuckGo's JavaScript free results page.
	DefaultSearchURL = "https://html.duckduckgo.com/html/"
	userAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	fetchTimeout     = 10 * time.Second
	snippetLimit     = 200
	// maxPageBytes caps how much of a response is read and parsed.
	maxPageBytes = 5 << 20
)

// Client performs searches and page fetches.
type Client struct {
	searchURL string
	http      *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithSearchURL points searches at another results page, used by tests.
func WithSearchURL(u string) Option {
	return func(c *Client) { c.searchURL = u }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a web client.
func NewClient(opts ...Option) *Client {
	c := &Client{searchURL: DefaultSearchURL, http: &http.Client{Timeout: fetchTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchResult is one hit from the results page.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

func (c *Client) get(ctx context.Context, u string) (*html.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPageBytes))
		return nil, fmt.Errorf("%s returned %s", u, resp.Status)
	}
	return html.Parse(io.LimitReader(resp.Body, maxPageBytes))
}

// Search returns up to maxResults results for query.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	doc, err := c.get(ctx, c.searchURL+"?q="+url.QueryEscape(query))
	if err != nil {
		return nil, errors.Wrapf(err, "search for %q failed", query)
	}

	var results []SearchResult
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && hasClass(n, "result") && !hasClass(n, "result--ad") {
			if r, ok := parseResult(n); ok {
				results = append(results, r)
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return results, nil
}

func parseResult(n *html.Node) (SearchResult, bool) {
	var r SearchResult
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case hasClass(n, "result__a"):
				r.Title = collapse(textOf(n))
				r.URL = resolveRedirect(attr(n, "href"))
				return
			case hasClass(n, "result__snippet"):
				r.Snippet = collapse(textOf(n))
				return
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return r, r.Title != "" && r.URL != ""
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= click tracking links.
func resolveRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

// FormatResults renders search results for the model.
func FormatResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return "No results found for query: " + query
	}
	lines := []string{"Search results for: " + query, ""}
	for i, r := range results {
		lines = append(lines, fmt.Sprintf("[%d] %s", i+1, r.Title))
		lines = append(lines, "    URL: "+r.URL)
		if r.Snippet != "" {
			snippet := r.Snippet
			if len(snippet) > snippetLimit {
				snippet = snippet[:snippetLimit] + "..."
			}
			lines = append(lines, "    Snippet: "+snippet)
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

var skippedElements = map[string]bool{
	"script": true,
	"style":  true,
	"nav":    true,
	"footer": true,
	"header": true,
}

// FetchPage returns the visible text of a page truncated to maxLength
// characters.
func (c *Client) FetchPage(ctx context.Context, u string, maxLength int) (string, error) {
	doc, err := c.get(ctx, u)
	if err != nil {
		return "", errors.Wrapf(err, "failed to fetch %s", u)
	}
	text := pageText(doc)
	if runes := []rune(text); maxLength > 0 && len(runes) > maxLength {
		text = string(runes[:maxLength]) + "..."
	}
	return text, nil
}

// pageText extracts the readable text of a document: skipped elements are
// dropped, lines are trimmed and runs of whitespace are joined by one space.
func pageText(doc *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if n.Type == html.ElementNode {
			sb.WriteString("\n")
		}
	}
	walk(doc)

	var chunks []string
	for _, line := range strings.Split(sb.String(), "\n") {
		for _, phrase := range strings.Split(strings.TrimSpace(line), "  ") {
			if phrase = strings.TrimSpace(phrase); phrase != "" {
				chunks = append(chunks, phrase)
			}
		}
	}
	return strings.Join(chunks, " ")
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return sb.String()
}

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

type searchArgs struct {
	Query      string `json:"query" desc:"The search query to run"`
	MaxResults int    `json:"max_results" default:"10" desc:"Maximum number of results to return"`
}

type fetchArgs struct {
	URL       string `json:"url" desc:"The URL to fetch"`
	MaxLength int    `json:"max_length" default:"10000" desc:"Maximum length of content to return"`
}

// Tools returns web_search and fetch_page_content. Failures are reported to
// the model as text so it can try another query or page.
func (c *Client) Tools() []tools.Tool {
	search := tools.MustFunc("web_search", `Searches the web and returns numbered results with titles and URLs.
This does not fetch page content; use fetch_page_content on the results that look relevant.`,
		func(ctx context.Context, a searchArgs) (tools.Result, error) {
			results, err := c.Search(ctx, a.Query, a.MaxResults)
			if err != nil {
				return tools.Text(fmt.Sprintf("[Error performing search: %v]", err)), nil
			}
			return tools.Text(FormatResults(a.Query, results)), nil
		})

	fetch := tools.MustFunc("fetch_page_content", `Fetches a URL and returns its text content.
Only fetch pages that are likely to contain the answer.`,
		func(ctx context.Context, a fetchArgs) (tools.Result, error) {
			text, err := c.FetchPage(ctx, a.URL, a.MaxLength)
			if err != nil {
				return tools.Text(fmt.Sprintf("[Error fetching content: %v]", err)), nil
			}
			return tools.Text(text), nil
		})

	return []tools.Tool{search, fetch}
}
