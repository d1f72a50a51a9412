package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lisuiheng/agentconn/agentstate"
	"github.com/lisuiheng/agentconn/core"
	"github.com/lisuiheng/agentconn/logger"
	"github.com/lisuiheng/agentconn/metrics"
	"github.com/lisuiheng/agentconn/status"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configPath string

	root := &cobra.Command{
		Use:           "agentconn",
		Short:         "Keep websocket connections to agents alive and report their state",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v, configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default searches ./config.yaml, ./config/config.yaml, /etc/agentconn/config.yaml)")
	root.PersistentFlags().Bool("debug", false, "Log at debug level to stdout")
	root.PersistentFlags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	_ = v.BindPFlag("debug", root.PersistentFlags().Lookup("debug"))
	_ = v.BindPFlag("metrics.listen_addr", root.PersistentFlags().Lookup("metrics-addr"))

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Connect to every configured agent (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v, configPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "labels",
		Short: "Print every connection UI state and its label",
		Run: func(cmd *cobra.Command, args []string) {
			printLabels(cmd.OutOrStdout())
		},
	})
	return root
}

func printLabels(w io.Writer) {
	for _, s := range agentstate.UIStates {
		fmt.Fprintf(w, "%-13s %s\n", s, s.Label())
	}
}

func run(ctx context.Context, v *viper.Viper, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := core.LoadConfig(v, configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		return err
	}

	if err := initLogger(v, cfg); err != nil {
		logger.Error("Failed to initialize logger", "error", err)
		return err
	}
	defer logger.Sync()
	defer logger.Info("Shutting down agentconn")

	store := agentstate.NewStore(agentstate.WithLogger(logger.Logger()))
	watcher := status.NewWatcher(store, logger.Logger())
	defer watcher.Stop()

	client, err := core.NewClient(cfg, store, logger.Logger())
	if err != nil {
		logger.Error("Failed to create client", "error", err)
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error("Failed to close client", "error", err)
		}
	}()

	if cfg.Metrics.ListenAddr != "" {
		srv := startMetricsServer(cfg.Metrics, store)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	done := make(chan error, 1)
	go func() {
		logger.Info("Starting agentconn", "agents", len(cfg.Agents), "server", cfg.Server.URL)
		done <- client.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", "signal", sig)
		cancel()
		err = <-done
	case err = <-done:
	}
	if err != nil {
		logger.Error("Service runtime error", "error", err)
		return err
	}
	logger.Info("Service shutdown completed")
	return nil
}

func initLogger(v *viper.Viper, cfg core.Config) error {
	logCfg := cfg.Logging
	if v.GetBool("debug") {
		logCfg.Level = "debug"
		logCfg.Outputs = []string{"stdout"}
	}
	return logger.Init(logCfg)
}

func startMetricsServer(cfg core.MetricsConfig, store *agentstate.Store) *http.Server {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler(metrics.NewRegistry(store)))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Serving metrics", "addr", cfg.ListenAddr, "path", path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	return srv
}
