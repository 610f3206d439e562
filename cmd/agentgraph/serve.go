package main

import (
	"github.com/spf13/cobra"

	"github.com/randalmurphal/agentgraph/internal/httpapi"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the execution API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			opts := []httpapi.Option{
				httpapi.WithLogger(c.logger),
				httpapi.WithRequestTimeout(c.v.GetDuration("server.request_timeout")),
			}
			if rt.registry != nil {
				opts = append(opts, httpapi.WithMetrics(rt.registry))
			}
			return httpapi.NewServer(rt.svc, opts...).ListenAndServe(cmd.Context(), c.v.GetString("server.addr"))
		},
	}
	cmd.Flags().String("addr", "", "listen address (default :8080)")
	_ = c.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	c.v.SetDefault("server.request_timeout", "2m")
	return cmd
}
