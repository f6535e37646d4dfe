// CLAUDE:SUMMARY CLI entry point for rendercheck: signal-aware context, delegates to internal/cli.
// Command rendercheck runs the MapLibre visual regression harness.
//
// Usage:
//
//	rendercheck corpus --source ../maplibre-gl-js/test/integration/render/tests
//	rendercheck serve                 # fixture server + report viewer on :3900
//	rendercheck run                   # render, compare, write results/summary.json
//	rendercheck report --check        # Markdown summary, exit 1 when unhealthy
//	rendercheck history               # recent runs and flaky fixtures
//	rendercheck mcp                   # triage tools over MCP stdio
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/rendercheck/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx)
	stop()
	os.Exit(code)
}
