package main

import (
	"flag"

	"github.com/danmuck/ctlwire/internal/auth"
	"github.com/danmuck/ctlwire/internal/inspect"
	"github.com/rs/zerolog/log"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config.toml path")
	addr := fs.String("addr", "", "listen address override")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	ser := serializerFor(cfg)

	httpLogger := log.Logger.With().Str("component", "inspect").Logger()
	var opts []inspect.Option
	if cfg.Token != "" {
		opts = append(opts, inspect.WithValidator(auth.StaticToken{Token: cfg.Token}))
	}
	srv := inspect.NewServer(cfg.ListenAddr, cfg.CorsOrigins, ser, cfg.Frame, httpLogger, opts...)
	return srv.Serve()
}
