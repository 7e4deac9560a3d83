package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/fedsearch/cli/config"
	"github.com/pithecene-io/fedsearch/gateway"
)

// ServeCommand returns the serve command, which runs the HTTP gateway until
// interrupted.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the federation HTTP gateway",
		Flags: withFlags(
			[]cli.Flag{
				ConfigFlag,
				LogLevelFlag,
				&cli.StringFlag{
					Name:    "addr",
					Usage:   "Listen address",
					Value:   gateway.DefaultAddr,
					EnvVars: []string{"FEDSEARCH_ADDR"},
				},
			},
			federationFlags(),
			notifyFlags(),
			archiveFlags(),
		),
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return invalidInput("%v", err)
	}

	rt, err := buildRuntime(c, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	opts := []gateway.Option{
		gateway.WithHooks(rt.hooks),
		gateway.WithMetrics(rt.metrics),
		gateway.WithLogger(rt.logger),
	}
	if cfg != nil {
		opts = append(opts, gateway.WithRequestDefaults(cfg.ApplyTargetDefaults))
	}
	srv := gateway.New(rt.dispatcher, opts...)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := resolveString(c, "addr", configVal(cfg, func(c *config.Config) string { return c.Server.Addr }))
	return srv.ListenAndServe(ctx, addr)
}
