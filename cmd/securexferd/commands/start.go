package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/relaycrypt/securexfer/internal/config"
	"github.com/relaycrypt/securexfer/internal/directory"
	"github.com/relaycrypt/securexfer/internal/logger"
	"github.com/relaycrypt/securexfer/internal/metrics"
	promrecorder "github.com/relaycrypt/securexfer/internal/metrics/prometheus"
	"github.com/relaycrypt/securexfer/internal/server"
	"github.com/relaycrypt/securexfer/internal/upload"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the securexferd server",
	Long: `Start the securexferd server with the specified configuration.

Use --config to point at a YAML config file; any option it doesn't set falls
back to built-in defaults, and SECUREXFER_-prefixed environment variables
override both.

Examples:
  securexferd start
  securexferd start --config /etc/securexfer/config.yaml
  SECUREXFER_LOGGING_LEVEL=DEBUG securexferd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}); err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	logger.Info("securexferd starting",
		"version", Version,
		"log_level", cfg.Logging.Level,
		"files_dir", cfg.Server.FilesDir,
		"max_payload_size", cfg.Server.MaxPayloadSize.String())

	var recorder metrics.Recorder = metrics.Noop{}
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		recorder = promrecorder.New(reg)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}

		go func() {
			logger.Info("metrics: listening", "addr", cfg.Metrics.ListenAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics: server error", "error", err)
			}
		}()
	} else {
		logger.Info("metrics disabled")
	}

	assembler := upload.New(cfg.Server.FilesDir)
	assembler.TruncateOnFirstPacket = cfg.Upload.TruncateOnFirstPacket

	srv := server.New(server.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		PortFile:       cfg.Server.PortFile,
		Directory:      directory.New(),
		Assembler:      assembler,
		Metrics:        recorder,
		MaxPayloadSize: uint32(cfg.Server.MaxPayloadSize.Uint64()),
		IdleTimeout:    cfg.Server.IdleTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverDone := make(chan error, 1)
	go func() { serverDone <- srv.Serve(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("securexferd is running", "addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))

	select {
	case <-sigCh:
		signal.Stop(sigCh)
		logger.Info("shutdown signal received")
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	case err := <-serverDone:
		signal.Stop(sigCh)
		if err != nil {
			logger.Error("server error", "error", err)
			return err
		}
	}

	if metricsServer != nil {
		_ = metricsServer.Close()
	}

	logger.Info("securexferd stopped")
	return nil
}
