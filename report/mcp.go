package report

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/rendercheck/kit"
)

// FlakyFixture is a fixture whose status changed across recorded runs.
type FlakyFixture struct {
	ID          string `json:"id"`
	Runs        int    `json:"runs"`
	Pass        int    `json:"pass"`
	Fail        int    `json:"fail"`
	Error       int    `json:"error"`
	Transitions int    `json:"transitions"`
}

// HistorySource provides cross-run outcomes for triage.
type HistorySource interface {
	FlakyFixtures(ctx context.Context, lastRuns, limit int) ([]FlakyFixture, error)
}

// MCPConfig wires the triage tools to their data.
type MCPConfig struct {
	// ResultsDir holds summary.json; it is re-read on every call.
	ResultsDir string
	// History is optional; the flaky tool is only registered when set.
	History HistorySource
	Logger  *slog.Logger
}

// RegisterMCP registers the triage tools on an MCP server.
func RegisterMCP(srv *mcp.Server, cfg MCPConfig) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	registerSummaryTool(srv, cfg)
	registerResultsTool(srv, cfg)
	registerResultTool(srv, cfg)
	if cfg.History != nil {
		registerFlakyTool(srv, cfg)
	}
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func addTool[Req, Resp any](srv *mcp.Server, cfg MCPConfig, tool *mcp.Tool, ep kit.Endpoint[Req, Resp]) {
	kit.AddTool(srv, tool, kit.Chain(ep, kit.Logging[Req, Resp](cfg.Logger, tool.Name)))
}

type summaryResp struct {
	Total      int             `json:"total"`
	Pass       int             `json:"pass"`
	Fail       int             `json:"fail"`
	Error      int             `json:"error"`
	Skip       int             `json:"skip"`
	Categories []CategoryStats `json:"categories"`
	Health     Health          `json:"health"`
	Healthy    bool            `json:"healthy"`
	Unhealthy  string          `json:"unhealthy,omitempty"`
}

func registerSummaryTool(srv *mcp.Server, cfg MCPConfig) {
	tool := &mcp.Tool{
		Name:        "rendercheck_summary",
		Description: "Counts per status and per category for the latest render run, with its health verdict.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	addTool(srv, cfg, tool, func(context.Context, struct{}) (*summaryResp, error) {
		s, err := Read(cfg.ResultsDir)
		if err != nil {
			return nil, err
		}
		h, herr := CheckHealth(s)
		resp := &summaryResp{
			Total: s.Total, Pass: s.Pass, Fail: s.Fail, Error: s.Error, Skip: s.Skip,
			Categories: s.Categories(),
			Health:     h,
			Healthy:    herr == nil,
		}
		if herr != nil {
			resp.Unhealthy = herr.Error()
		}
		return resp, nil
	})
}

type resultsReq struct {
	Status string `json:"status"`
	Limit  int    `json:"limit"`
}

type resultsResp struct {
	Results []Result `json:"results"`
}

func registerResultsTool(srv *mcp.Server, cfg MCPConfig) {
	tool := &mcp.Tool{
		Name:        "rendercheck_results",
		Description: "List results of the latest run filtered by status (pass, fail, error, skip).",
		InputSchema: inputSchema(map[string]any{
			"status": map[string]any{"type": "string", "enum": []string{"pass", "fail", "error", "skip"}},
			"limit":  map[string]any{"type": "integer", "description": "Maximum results, default 50"},
		}, []string{"status"}),
	}
	addTool(srv, cfg, tool, func(_ context.Context, r resultsReq) (*resultsResp, error) {
		switch Status(r.Status) {
		case StatusPass, StatusFail, StatusError, StatusSkip:
		default:
			return nil, fmt.Errorf("unknown status %q", r.Status)
		}
		if r.Limit <= 0 {
			r.Limit = 50
		}
		s, err := Read(cfg.ResultsDir)
		if err != nil {
			return nil, err
		}
		list := s.Filter(Status(r.Status), r.Limit)
		if list == nil {
			list = []Result{}
		}
		return &resultsResp{Results: list}, nil
	})
}

type resultReq struct {
	ID string `json:"id"`
}

func registerResultTool(srv *mcp.Server, cfg MCPConfig) {
	tool := &mcp.Tool{
		Name:        "rendercheck_result",
		Description: "Show one fixture's result from the latest run, including diff artifact paths.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Fixture id, e.g. circle-radius/literal"},
		}, []string{"id"}),
	}
	addTool(srv, cfg, tool, func(_ context.Context, r resultReq) (*Result, error) {
		s, err := Read(cfg.ResultsDir)
		if err != nil {
			return nil, err
		}
		res, ok := s.Find(r.ID)
		if !ok {
			return nil, fmt.Errorf("no result for fixture %q", r.ID)
		}
		return &res, nil
	})
}

type flakyReq struct {
	Runs  int `json:"runs"`
	Limit int `json:"limit"`
}

type flakyResp struct {
	Fixtures []FlakyFixture `json:"fixtures"`
}

func registerFlakyTool(srv *mcp.Server, cfg MCPConfig) {
	tool := &mcp.Tool{
		Name:        "rendercheck_flaky",
		Description: "Fixtures whose status changed across the most recent recorded runs.",
		InputSchema: inputSchema(map[string]any{
			"runs":  map[string]any{"type": "integer", "description": "How many recent runs to consider, default 10"},
			"limit": map[string]any{"type": "integer", "description": "Maximum fixtures, default 50"},
		}, nil),
	}
	addTool(srv, cfg, tool, func(ctx context.Context, r flakyReq) (*flakyResp, error) {
		if r.Runs <= 0 {
			r.Runs = 10
		}
		if r.Limit <= 0 {
			r.Limit = 50
		}
		list, err := cfg.History.FlakyFixtures(ctx, r.Runs, r.Limit)
		if err != nil {
			return nil, err
		}
		if list == nil {
			list = []FlakyFixture{}
		}
		return &flakyResp{Fixtures: list}, nil
	})
}
