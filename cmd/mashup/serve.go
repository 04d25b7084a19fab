package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/mashup/pkg/api"
	"github.com/odvcencio/mashup/pkg/config"
	"github.com/odvcencio/mashup/pkg/logging"
	"github.com/odvcencio/mashup/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(root *rootOptions) *cobra.Command {
	var (
		address string
		watch   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the widget page and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, root.configPath, watch)
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "address to listen on (overrides server.address)")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload the log level when the config file changes")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, configPath string, watch bool) error {
	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return withExitCode(err, exitConfig)
	}
	defer logger.Close()

	if cfg.Tracing.Enabled {
		tp, err := telemetry.NewTracerProvider(ctx, telemetry.TracingOptions{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: version,
			SampleRatio:    cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			tp.Shutdown(shutdownCtx)
		}()
	}

	p, err := buildPage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	server := api.NewServer(api.ServerConfig{
		Address:      cfg.Server.Address,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Transport:    p.transport,
		Provider:     p.provider,
		Editor:       p.editor,
		Resources:    p.tracker.Store(),
		Journal:      p.journal,
		DataDir:      cfg.Server.DataDir,
		UseRate:      cfg.Server.UseRate,
		UseBurst:     cfg.Server.UseBurst,
		Logger:       logger.With("api"),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if watch {
		if path := watchedConfigPath(configPath); path != "" {
			g.Go(func() error {
				return config.Watch(ctx, path, func(next *config.Config, err error) {
					if err != nil {
						logger.Warn(logging.CategoryConfig, "reload_failed", err.Error(), map[string]any{"path": path})
						return
					}
					logger.SetMinLevel(logging.ParseLevel(next.Logging.Level))
					logger.Info(logging.CategoryConfig, "reloaded", path, map[string]any{"level": next.Logging.Level})
				})
			})
		}
	}

	return g.Wait()
}

// watchedConfigPath is the explicit --config file, or the project file
// when it exists.
func watchedConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat(config.FileName); err == nil {
		return config.FileName
	}
	return ""
}
