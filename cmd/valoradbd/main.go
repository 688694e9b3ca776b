// Command valoradbd is the document store's entrypoint: it loads
// configuration, opens the storage engine (running crash recovery as
// needed), optionally serves Prometheus metrics, and drops into the
// interactive shell. Grounded on the teacher's root-level main.go, rebuilt
// around cobra the way the retrieval pack's other CLI daemons are
// structured.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/neebdev/valoradb/internal/config"
	"github.com/neebdev/valoradb/internal/shell"
	"github.com/neebdev/valoradb/internal/storage"
	"github.com/neebdev/valoradb/internal/walog"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var metricsAddr string

	root := &cobra.Command{
		Use:   "valoradbd",
		Short: "valoradb is a transactional, WAL-backed JSON document store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(configPath, metricsAddr)
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "./valoradb.config.json", "path to the config file")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9090 (disabled if empty)")

	return root
}

func runShell(configPath, metricsAddr string) error {
	logger := logrus.StandardLogger()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDBRoot(); err != nil {
		return fmt.Errorf("ensure db root: %w", err)
	}

	if metricsAddr != "" {
		go serveMetrics(metricsAddr, logger)
	}

	engine, err := storage.Open(storage.Options{
		DBRoot:      cfg.DBRoot,
		LockTimeout: time.Duration(cfg.Lock.TimeoutSeconds) * time.Second,
		WAL: walog.Options{
			BufferThreshold: cfg.WAL.BufferThreshold,
			RotateSize:      cfg.WAL.RotateSizeBytes,
			Logger:          logger,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer func() {
		if err := engine.Shutdown(); err != nil {
			logger.WithError(err).Error("shutdown")
		}
	}()

	return shell.New(engine, os.Stdin, os.Stdout).Run()
}

func serveMetrics(addr string, logger *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.WithField("addr", addr).Info("serving prometheus metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.WithError(err).Error("metrics server stopped")
	}
}
