package report

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMCPImpl = &mcp.Implementation{Name: "rendercheck-test", Version: "0.1.0"}

type fakeHistory struct {
	runs, limit int
}

func (f *fakeHistory) FlakyFixtures(_ context.Context, runs, limit int) ([]FlakyFixture, error) {
	f.runs, f.limit = runs, limit
	return []FlakyFixture{{ID: "text-field/formatted", Runs: 4, Pass: 2, Fail: 2, Transitions: 3}}, nil
}

func mcpSession(t *testing.T, cfg MCPConfig) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	RegisterMCP(srv, cfg)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected TextContent")
	return tc.Text, result.IsError
}

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, Write(dir, Build(entries("a", "b", "c", "d", "e"), sample())))
	return dir
}

func TestMCP_Summary(t *testing.T) {
	session := mcpSession(t, MCPConfig{ResultsDir: writeSample(t)})

	text, isErr := callTool(t, session, "rendercheck_summary", map[string]any{})
	require.False(t, isErr, text)

	var resp struct {
		Total      int             `json:"total"`
		Fail       int             `json:"fail"`
		Healthy    bool            `json:"healthy"`
		Unhealthy  string          `json:"unhealthy"`
		Categories []CategoryStats `json:"categories"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	assert.Equal(t, 5, resp.Total)
	assert.Equal(t, 1, resp.Fail)
	assert.False(t, resp.Healthy, "2 of 4 passing is unhealthy")
	assert.Contains(t, resp.Unhealthy, "error rate")
	assert.Len(t, resp.Categories, 3)
}

func TestMCP_Results(t *testing.T) {
	session := mcpSession(t, MCPConfig{ResultsDir: writeSample(t)})

	text, isErr := callTool(t, session, "rendercheck_results", map[string]any{"status": "pass"})
	require.False(t, isErr, text)
	var resp struct {
		Results []Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "circle-radius/literal", resp.Results[0].ID)

	text, isErr = callTool(t, session, "rendercheck_results", map[string]any{"status": "bogus"})
	assert.True(t, isErr)
	assert.Contains(t, text, "unknown status")
}

func TestMCP_Result(t *testing.T) {
	session := mcpSession(t, MCPConfig{ResultsDir: writeSample(t)})

	text, isErr := callTool(t, session, "rendercheck_result", map[string]any{"id": "circle-radius/function"})
	require.False(t, isErr, text)
	var r Result
	require.NoError(t, json.Unmarshal([]byte(text), &r))
	assert.Equal(t, StatusFail, r.Status)
	assert.Equal(t, "diffs/circle-radius/function/diff.png", r.Diff)

	text, isErr = callTool(t, session, "rendercheck_result", map[string]any{"id": "missing/one"})
	assert.True(t, isErr)
	assert.Contains(t, text, "missing/one")
}

func TestMCP_MissingSummaryIsToolError(t *testing.T) {
	session := mcpSession(t, MCPConfig{ResultsDir: t.TempDir()})
	text, isErr := callTool(t, session, "rendercheck_summary", map[string]any{})
	assert.True(t, isErr)
	assert.Contains(t, text, "read summary")
}

func TestMCP_Flaky(t *testing.T) {
	h := &fakeHistory{}
	session := mcpSession(t, MCPConfig{ResultsDir: writeSample(t), History: h})

	text, isErr := callTool(t, session, "rendercheck_flaky", map[string]any{"runs": 4})
	require.False(t, isErr, text)
	assert.Equal(t, 4, h.runs)
	assert.Equal(t, 50, h.limit)

	var resp struct {
		Fixtures []FlakyFixture `json:"fixtures"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	require.Len(t, resp.Fixtures, 1)
	assert.Equal(t, 3, resp.Fixtures[0].Transitions)
}

func TestMCP_FlakyRequiresHistory(t *testing.T) {
	session := mcpSession(t, MCPConfig{ResultsDir: writeSample(t)})
	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	for _, tool := range res.Tools {
		assert.NotEqual(t, "rendercheck_flaky", tool.Name)
	}
	assert.Len(t, res.Tools, 3)
}
