package cli

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/rendercheck/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve fixture pages, assets, results and the report viewer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.ensureCDN(ctx); err != nil {
				return err
			}
			return server.New(a.cfg.Server, a.logger).ListenAndServe(ctx)
		},
	}
	cmd.Flags().String("host", "", "listen host (default all interfaces)")
	mustBind(a.v, "serve.host", cmd.Flags().Lookup("host"))
	cmd.PreRun = func(*cobra.Command, []string) {
		if h := a.v.GetString("serve.host"); h != "" {
			a.cfg.Server.Host = h
		}
	}
	return cmd
}

// ensureCDN fetches the map library into the CDN cache. A failure here is
// fatal: no fixture page can load without it.
func (a *app) ensureCDN(ctx context.Context) error {
	err := server.EnsureCDNCache(ctx, nil, a.cfg.Server.CDNDir, server.DefaultCDNFiles(), a.logger)
	if err != nil {
		return fmt.Errorf("cdn cache: %w", err)
	}
	return nil
}

// startServer runs the fixture server in the background until the
// returned stop function is called.
func (a *app) startServer(ctx context.Context) (stop func(), err error) {
	if err := a.ensureCDN(ctx); err != nil {
		return nil, err
	}
	cfg := a.cfg.Server
	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	srvCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- server.New(cfg, a.logger).Serve(srvCtx, ln) }()

	return func() {
		cancel()
		if err := <-errCh; err != nil {
			a.logger.Warn("server: stopped with error", "error", err)
		}
	}, nil
}
