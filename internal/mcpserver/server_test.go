package mcpserver

import (
	"context"
	"encoding/json"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/tobert/cruxview/internal/batchfile"
	"github.com/tobert/cruxview/internal/crux"
	"github.com/tobert/cruxview/internal/report"
	"github.com/tobert/cruxview/internal/session"
)

type fakeFetcher map[string]string

func (f fakeFetcher) QueryRecord(ctx context.Context, origin string) (json.RawMessage, error) {
	if body, ok := f[origin]; ok {
		return json.RawMessage(body), nil
	}
	return nil, &crux.APIError{StatusCode: 404, Message: "chrome ux report data not found"}
}

func record(lcp, cls string) string {
	return `{"record":{"metrics":{` +
		`"largest_contentful_paint":{"histogram":[{"start":0,"end":2500,"density":0.7},{"start":2500,"end":4000,"density":0.2},{"start":4000,"density":0.1}],"percentiles":{"p75":` + lcp + `}},` +
		`"cumulative_layout_shift":{"percentiles":{"p75":"` + cls + `"}}}}}`
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	sess, err := session.New(report.NewEngine(language.English), fakeFetcher{
		"https://a.com": record("0.92", "0.05"),
		"https://b.com": record("0.40", "0.30"),
	})
	require.NoError(t, err)

	srv, err := NewServer(sess)
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)
	return srv
}

func search(t *testing.T, srv *Server, origins ...string) SearchOriginsOutput {
	t.Helper()
	_, out, err := srv.handleSearchOrigins(context.Background(), &mcp.CallToolRequest{}, SearchOriginsInput{Origins: origins})
	require.NoError(t, err)
	return out
}

func TestServerCreation(t *testing.T) {
	srv := newTestServer(t)
	assert.NotNil(t, srv.MCPServer())

	_, err := NewServer(nil)
	assert.Error(t, err, "nil session")
}

func TestBatchFileWatch(t *testing.T) {
	srv := newTestServer(t)
	path := filepath.Join(t.TempDir(), "batch.jsonl")
	require.NoError(t, batchfile.Write(path, []report.RawResponse{
		{Origin: "https://saved.com", Body: json.RawMessage(record("0.5", "0.1"))},
	}))

	w, err := srv.WatchBatchFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{w.Path()}, srv.WatchedBatchFiles())
	assert.Equal(t, []string{"https://saved.com"}, srv.session.Batch().Origins())

	_, err = srv.WatchBatchFile(context.Background(), path)
	assert.Error(t, err, "duplicate watch")

	require.NoError(t, batchfile.Write(path, []report.RawResponse{
		{Origin: "https://one.com", Body: json.RawMessage(record("0.5", "0.1"))},
		{Origin: "https://two.com", Body: json.RawMessage(record("0.6", "0.1"))},
	}))
	require.Eventually(t, func() bool {
		return len(srv.session.Batch().Results) == 2
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, srv.UnwatchBatchFile(w.Path()))
	assert.Empty(t, srv.WatchedBatchFiles())
	assert.Error(t, srv.UnwatchBatchFile(w.Path()))
}

func readReq(uri string) *mcp.ReadResourceRequest {
	return &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{URI: uri},
	}
}

func readText(t *testing.T, result *mcp.ReadResourceResult) string {
	t.Helper()
	require.Len(t, result.Contents, 1)
	return result.Contents[0].Text
}

func TestBatchResource(t *testing.T) {
	srv := newTestServer(t)

	result, err := srv.handleBatchResource(context.Background(), readReq("crux://batch"))
	require.NoError(t, err)
	assert.Contains(t, readText(t, result), "No batch yet")

	search(t, srv, "https://a.com", "https://b.com", "https://tiny.example")
	result, err = srv.handleBatchResource(context.Background(), readReq("crux://batch"))
	require.NoError(t, err)
	text := readText(t, result)
	assert.Contains(t, text, "Id:")
	assert.Contains(t, text, "2 / 3")
	assert.Contains(t, text, "Failed origins (1)")
	assert.Contains(t, text, "https://tiny.example")
}

func TestMetricsResource(t *testing.T) {
	srv := newTestServer(t)
	search(t, srv, "https://a.com")
	srv.session.SetFilter(report.FilterState{Metrics: report.NewSet("cumulative_layout_shift")})

	result, err := srv.handleMetricsResource(context.Background(), readReq("crux://metrics"))
	require.NoError(t, err)
	text := readText(t, result)
	assert.Contains(t, text, "Metrics (2)")
	assert.Contains(t, text, "✓ cumulative_layout_shift")
	assert.Contains(t, text, "  largest_contentful_paint")
}

func TestRowsAndSummaryResources(t *testing.T) {
	srv := newTestServer(t)
	search(t, srv, "https://a.com", "https://b.com")

	result, err := srv.handleRowsResource(context.Background(), readReq("crux://rows"))
	require.NoError(t, err)
	text := readText(t, result)
	assert.Contains(t, text, "Rows (4)")
	assert.Contains(t, text, "92.00")
	assert.Contains(t, text, "[")

	result, err = srv.handleSummaryResource(context.Background(), readReq("crux://summary"))
	require.NoError(t, err)
	assert.Contains(t, readText(t, result), "66.00")

	srv.session.SetThreshold(1000)
	result, err = srv.handleSummaryResource(context.Background(), readReq("crux://summary"))
	require.NoError(t, err)
	assert.Contains(t, readText(t, result), "No metric has values")
}

func TestOriginResource(t *testing.T) {
	srv := newTestServer(t)
	search(t, srv, "https://a.com", "https://tiny.example")
	srv.session.SetThreshold(99)

	uri := "crux://origins/" + url.PathEscape("https://a.com")
	result, err := srv.handleOriginResource(context.Background(), readReq(uri))
	require.NoError(t, err)
	text := readText(t, result)
	assert.Contains(t, text, "Origin: https://a.com")
	assert.Contains(t, text, "largest_contentful_paint", "origin detail ignores the threshold")

	result, err = srv.handleOriginResource(context.Background(), readReq("crux://origins/"+url.PathEscape("https://tiny.example")))
	require.NoError(t, err)
	assert.Contains(t, readText(t, result), "No data")

	_, err = srv.handleOriginResource(context.Background(), readReq("crux://origins/nope"))
	assert.Error(t, err)
	_, err = srv.handleOriginResource(context.Background(), readReq("crux://origins/"))
	assert.Error(t, err)
}

func TestExtractURIParam(t *testing.T) {
	got, err := extractURIParam("crux://origins/https:%2F%2Fa.com", "crux://origins/")
	require.NoError(t, err)
	assert.Equal(t, "https://a.com", got)

	_, err = extractURIParam("otlp://x", "crux://origins/")
	assert.Error(t, err)
}
