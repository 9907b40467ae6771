// Command connkitd runs the connkit connectivity layer as a standalone
// process: one managed websocket connection, the module resolver, the
// configured backend clients and the status API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/lexfront/connkit/bootstrap"
	"github.com/lexfront/connkit/config"
	"github.com/lexfront/connkit/logger"
	"github.com/lexfront/connkit/version"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	envFile := flag.String("env-file", "", "Path to .env file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get().String())
		return
	}

	var opts []config.LoaderOption
	if *configPath != "" {
		opts = append(opts, config.WithConfigFile(*configPath))
	}
	if *envFile != "" {
		opts = append(opts, config.WithEnvFile(*envFile))
	}

	cfg, err := bootstrap.Load("connkitd", opts...)
	if err != nil {
		logger.Error("failed to load config", logger.ErrorFields("load_config", err))
		os.Exit(1)
	}
	if cfg.Version == "" {
		cfg.Version = version.Get().Version
	}

	app, err := bootstrap.New(cfg)
	if err != nil {
		logger.Error("failed to initialize", logger.ErrorFields("bootstrap", err))
		os.Exit(1)
	}
	if err := app.Run(context.Background()); err != nil {
		app.Logger.Error("exited with error", logger.ErrorFields("run", err))
		os.Exit(1)
	}
}
