package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Warspoot/tlserver/internal/cli"
	"github.com/Warspoot/tlserver/internal/config"
	"github.com/Warspoot/tlserver/internal/dispatch"
	"github.com/Warspoot/tlserver/internal/httpapi"
	"github.com/Warspoot/tlserver/internal/logging"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "0.0.0.0", "Host interface to bind")
	configPath := fs.String("config", "", "Path to the config file")
	rootPort := fs.Int("root-port", 0, "Override the root HTTP port")
	debug := fs.Bool("debug", false, "Override the debug setting")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 180*time.Second, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if _, err := envLoader.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	rt, err := config.LoadRuntime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read process settings: %v\n", err)
		return 1
	}

	// Flags given explicitly become the highest-precedence config layer.
	overrides := map[string]any{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "root-port":
			overrides["root_port"] = *rootPort
		case "debug":
			overrides["debug"] = *debug
		}
	})

	resolvedConfigPath := *configPath
	if resolvedConfigPath == "" {
		resolvedConfigPath = rt.ConfigPath
	}

	cfg, err := config.Load(config.LoadOptions{
		Overrides:  overrides,
		ConfigPath: resolvedConfigPath,
		SecretsDir: rt.SecretsDir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config:\n%v\n", err)
		return 1
	}

	level := rt.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	logger, err := logging.New(rt.Environment, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		logger.Info().Msg("shutdown signal received")
		cancel()
	}()

	registry := dispatch.Build(ctx, cfg, logger)
	if registry.Empty() {
		logger.Warn().Msg("no backend came up, serving root port only")
	}

	srv := httpapi.NewServer(registry, logger, httpapi.Options{
		Host:            *host,
		RootPort:        cfg.RootPort,
		ReadTimeout:     *readTimeout,
		WriteTimeout:    *writeTimeout,
		ShutdownTimeout: *shutdownTimeout,
	})

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Str("host", *host).Int("root_port", cfg.RootPort).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}

	return 0
}
