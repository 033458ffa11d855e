// Command meterd runs the usage metering engine behind its HTTP API
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/KOMKZ/go-yogan-meter/engine"
	"github.com/KOMKZ/go-yogan-meter/flagx"
	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/KOMKZ/go-yogan-meter/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ServeOptions are the serve command flags
type ServeOptions struct {
	Config string        `flag:"config,c" usage:"path to the YAML config file" default:"configs/meter.yaml"`
	Addr   string        `flag:"addr" usage:"listen address, overrides server.addr"`
	Grace  time.Duration `flag:"grace" usage:"time allowed for in-flight work on shutdown" default:"15s"`
}

// CheckOptions are the check-config command flags
type CheckOptions struct {
	Config string `flag:"config,c" usage:"path to the YAML config file" default:"configs/meter.yaml"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "meterd",
		Short:        "Usage metering, quota enforcement and alerting",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newCheckConfigCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var opts ServeOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := flagx.Parse(cmd, &opts); err != nil {
				return err
			}
			return serve(cmd.Context(), opts)
		},
	}
	cobra.CheckErr(flagx.Bind(cmd, &opts))
	return cmd
}

func newCheckConfigCmd() *cobra.Command {
	var opts CheckOptions
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate a config file and print what it configures",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := flagx.Parse(cmd, &opts); err != nil {
				return err
			}
			cfg, err := engine.LoadConfig(opts.Config)
			if err != nil {
				return err
			}
			return summarize(cmd.OutOrStdout(), cfg)
		},
	}
	cobra.CheckErr(flagx.Bind(cmd, &opts))
	return cmd
}

func serve(ctx context.Context, opts ServeOptions) error {
	cfg, err := engine.LoadConfig(opts.Config)
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}

	logger.InitManager(cfg.Logger)
	defer logger.CloseAll()
	log := logger.GetLogger("meterd")

	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		_ = eng.Stop(ctx)
		return err
	}
	srv := server.New(eng)
	if err := srv.Start(); err != nil {
		_ = eng.Stop(ctx)
		return err
	}
	log.InfoCtx(ctx, "meterd ready", zap.String("addr", cfg.Server.Addr), zap.String("counter", string(cfg.Counter.Type)))

	waitForSignal(ctx, log)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.Grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.ErrorCtx(shutdownCtx, "http shutdown", zap.Error(err))
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		log.ErrorCtx(shutdownCtx, "engine shutdown", zap.Error(err))
		return err
	}
	log.InfoCtx(shutdownCtx, "meterd stopped")
	return nil
}

// waitForSignal returns on the first SIGINT or SIGTERM. A second signal
// exits immediately.
func waitForSignal(ctx context.Context, log *logger.CtxZapLogger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.InfoCtx(ctx, "shutdown signal received", zap.String("signal", sig.String()))
		go func() {
			sig := <-quit
			log.WarnCtx(context.Background(), "second signal received, forcing exit", zap.String("signal", sig.String()))
			os.Exit(1)
		}()
	case <-ctx.Done():
	}
}

func summarize(w io.Writer, cfg engine.Config) error {
	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}
	rules, err := cfg.AlertRules()
	if err != nil {
		return err
	}
	seeds, err := cfg.Seeds()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintf(tw, "server\t%s (%s)\n", cfg.Server.Addr, cfg.Server.Mode)
	fmt.Fprintf(tw, "counter store\t%s\n", cfg.Counter.Type)
	if cfg.Storage.Database != "" {
		fmt.Fprintf(tw, "database\t%s\n", cfg.Storage.Database)
	} else {
		fmt.Fprintf(tw, "database\tnone (in-memory entities, no history)\n")
	}

	tiers := make([]string, 0)
	for _, t := range catalog.Tiers() {
		tiers = append(tiers, string(t))
	}
	fmt.Fprintf(tw, "tiers\t%s\n", strings.Join(tiers, ", "))
	fmt.Fprintf(tw, "seeded entities\t%d\n", len(seeds))

	enabled := make([]string, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			enabled = append(enabled, r.ID)
		}
	}
	sort.Strings(enabled)
	fmt.Fprintf(tw, "alert rules\t%d enabled of %d: %s\n", len(enabled), len(rules), strings.Join(enabled, ", "))
	fmt.Fprintf(tw, "alert channels\t%s\n", strings.Join(cfg.Alert.Channels(), ", "))
	fmt.Fprintf(tw, "alert interval\t%s\n", cfg.Alert.Interval)
	return tw.Flush()
}
