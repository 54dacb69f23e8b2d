package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"docrag/internal/httpapi"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve upload, query and streamed query endpoints:

  POST /upload          raw body with X-File-Name, or multipart field "file"
  GET  /query?q=...     JSON answer with sources
  GET  /query/stream    server-sent events (token, sources, error, done)
  GET  /healthz         record count
  GET  /metrics         prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = svc.Addr()
			}
			srv := httpapi.New(httpapi.Config{
				UploadDir:         svc.UploadDir(),
				TopK:              svc.TopK(),
				MaxUploadBytes:    a.cfg.Server.MaxUploadMB << 20,
				RequestsPerSecond: a.cfg.Server.RequestsPerSecond,
			}, svc.Pipeline, svc.Answerer, svc.Store, a.logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to server.addr or $PORT)")
	return cmd
}
