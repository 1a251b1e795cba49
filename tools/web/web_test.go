package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resultsPage = `<html><body>
<div class="result results_links">
  <h2><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F&amp;rut=x">The Go  Programming Language</a></h2>
  <a class="result__snippet">Go is an open source <b>programming</b> language.</a>
</div>
<div class="result result--ad">
  <a class="result__a" href="https://ads.example.com">Sponsored</a>
</div>
<div class="result">
  <a class="result__a" href="https://example.com/release">Release notes</a>
</div>
</body></html>`

func newSearchServer(t *testing.T, gotQuery *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*gotQuery = r.URL.Query().Get("q")
		_, _ = w.Write([]byte(resultsPage))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearch(t *testing.T) {
	var q string
	srv := newSearchServer(t, &q)
	c := NewClient(WithSearchURL(srv.URL))

	results, err := c.Search(context.Background(), "latest go version", 10)
	require.NoError(t, err)
	assert.Equal(t, "latest go version", q)
	assert.Equal(t, []SearchResult{
		{Title: "The Go Programming Language", URL: "https://go.dev/doc/", Snippet: "Go is an open source programming language."},
		{Title: "Release notes", URL: "https://example.com/release"},
	}, results)

	results, err = c.Search(context.Background(), "go", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestFormatResults(t *testing.T) {
	assert.Equal(t, "No results found for query: q", FormatResults("q", nil))

	out := FormatResults("q", []SearchResult{{Title: "T", URL: "https://x", Snippet: strings.Repeat("a", 250)}})
	assert.Equal(t, "Search results for: q\n\n[1] T\n    URL: https://x\n    Snippet: "+strings.Repeat("a", 200)+"...\n", out)
}

func TestFetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla")
		_, _ = w.Write([]byte(`<html><head><style>p{}</style><script>var x;</script></head>
<body><header>Site</header><nav>Menu</nav>
<h1>Title</h1>
<p>First   paragraph
   continues here.</p>
<footer>Copyright</footer></body></html>`))
	}))
	defer srv.Close()
	c := NewClient()

	text, err := c.FetchPage(context.Background(), srv.URL, 10000)
	require.NoError(t, err)
	assert.Equal(t, "Title First paragraph continues here.", text)

	text, err = c.FetchPage(context.Background(), srv.URL, 5)
	require.NoError(t, err)
	assert.Equal(t, "Title...", text)
}

func TestToolsReportErrorsAsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()
	c := NewClient(WithSearchURL(srv.URL))
	ts := c.Tools()
	require.Len(t, ts, 2)

	res, err := ts[0].Call(context.Background(), json.RawMessage(`{"query":"x"}`))
	require.NoError(t, err)
	content, err := res.Content()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(content, "[Error performing search:"), content)

	res, err = ts[1].Call(context.Background(), json.RawMessage(`{"url":"`+srv.URL+`"}`))
	require.NoError(t, err)
	content, err = res.Content()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(content, "[Error fetching content:"), content)
}

func TestFetchPageStopsReadingLargeBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body><p>head</p><p>"))
		_, _ = w.Write([]byte(strings.Repeat("x", maxPageBytes)))
		_, _ = w.Write([]byte("</p><p>tail</p></body></html>"))
	}))
	defer srv.Close()
	c := NewClient()

	text, err := c.FetchPage(context.Background(), srv.URL, 2*maxPageBytes)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "head x"))
	assert.NotContains(t, text, "tail")
	assert.Less(t, len(text), maxPageBytes)
}
