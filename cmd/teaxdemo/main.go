// Command teaxdemo runs a persisted counter component driven by a ticker.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/comalice/teax"
	"github.com/comalice/teax/internal/extensibility"
	"github.com/comalice/teax/internal/production"
	"github.com/comalice/teax/telemetry"
)

var (
	configPath string
	dotPath    string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "teaxdemo",
		Short:         "Run a persisted teax counter",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Tick the counter until the configured number of ticks or a signal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cmd.OutOrStdout())
		},
	}
	runCmd.Flags().StringVar(&dotPath, "dot", "", "write the snapshot trace as Graphviz DOT to this file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the persisted counter",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := production.NewYAMLStore[Counter](cfg.StateDir)
			if err != nil {
				return err
			}
			c, err := store.Load(cmd.Context(), cfg.StateKey)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "count=%d saves=%d\n", c.Count, c.Saves)
			return nil
		},
	}

	root.AddCommand(runCmd, showCmd)
	return root
}

func run(ctx context.Context, cfg Config, out io.Writer) error {
	level, _ := cfg.Level()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, err := production.NewYAMLStore[Counter](cfg.StateDir)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := production.NewPrometheusObserver(reg, "teaxdemo")
	traces, err := telemetry.New(telemetry.Config{Component: "teaxdemo"})
	if err != nil {
		return err
	}
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	app, err := NewApp(ctx, store, cfg.StateKey, log, teax.WithObserver(metrics), teax.WithObserver(traces))
	if err != nil {
		return err
	}
	comp := app.Component()
	defer comp.Shutdown()

	published := make(chan production.PublishedSnapshot[Msg, Counter, Cmd], 64)
	publisher := production.NewChannelPublisher[Msg, Counter, Cmd]("teaxdemo", published)
	var trace []teax.Snapshot[Msg, Counter, Cmd]

	timer := extensibility.NewTimerSource(cfg.TickInterval, func(int) Msg { return Msg{Kind: "tick", N: 1} })
	defer timer.Stop()
	ticks := extensibility.Throttle(ctx, timer.Messages(), rate.NewLimiter(rate.Limit(cfg.MaxRate), 1))

	snaps := comp.WithInterceptor(publisher.Intercept).Subscribe(ctx, ticks)
	defer snaps.Close()

	seen := 0
	for seen <= cfg.Ticks || cfg.Ticks == 0 {
		select {
		case snap, ok := <-snaps.C():
			if !ok {
				return snaps.Err()
			}
			trace = append(trace, snap)
			if snap.IsInitial() || snap.Message.Kind == "tick" {
				seen++
			}
			fmt.Fprintf(out, "%-7s count=%d saves=%d\n", snap.Kind, snap.State.Count, snap.State.Saves)
		case p := <-published:
			log.Debug("published", slog.String("component", p.Component), slog.Time("at", p.Timestamp))
		case <-ctx.Done():
			log.Info("interrupted")
			return writeTrace(trace, log)
		}
	}
	log.Info("demo complete", slog.Int("ticks", cfg.Ticks), slog.Int64("dropped", publisher.Dropped()))
	return writeTrace(trace, log)
}

func writeTrace(trace []teax.Snapshot[Msg, Counter, Cmd], log *slog.Logger) error {
	if dotPath == "" {
		return nil
	}
	v := &production.TraceVisualizer[Msg, Counter, Cmd]{}
	if err := os.WriteFile(dotPath, []byte(v.ExportDOT(trace)), 0o644); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	log.Info("trace written", slog.String("path", dotPath))
	return nil
}
