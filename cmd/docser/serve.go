package main

import (
	"github.com/spf13/cobra"

	"github.com/docser/docser/config"
	"github.com/docser/docser/internal/logging"
	srv "github.com/docser/docser/internal/server"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.General.LogLevel, cfg.General.Debug)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return srv.Run(cfg, logger)
		},
	}
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}
