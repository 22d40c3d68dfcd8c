package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/thereceipt/printer-bridge/internal/api"
	"github.com/thereceipt/printer-bridge/internal/config"
	"github.com/thereceipt/printer-bridge/internal/driver"
	"github.com/thereceipt/printer-bridge/internal/logging"
	"github.com/thereceipt/printer-bridge/internal/ports"
	"github.com/thereceipt/printer-bridge/internal/printer"
	"github.com/thereceipt/printer-bridge/internal/receipt"
	"github.com/thereceipt/printer-bridge/internal/service"
)

// Version is set during build via ldflags
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// The bridge is useless without a driver
	drv, err := driver.Load(cfg.Driver.Kind, cfg.Driver.Library)
	if err != nil {
		logger.Fatal("failed to load printer driver",
			zap.String("kind", cfg.Driver.Kind),
			zap.String("library", cfg.Driver.Library),
			zap.Error(err))
	}
	defer func() {
		if err := driver.Unload(drv); err != nil {
			logger.Warn("failed to unload printer driver", zap.Error(err))
		}
	}()

	manager := printer.NewManager(drv,
		printer.WithPrinterName(cfg.Printer.Name),
		printer.WithCallTimeout(cfg.Print.CallTimeout),
		printer.WithLogger(logger.Named("printer")))

	hub := api.NewHub(logger.Named("ws"))

	svc := service.New(manager, service.Config{
		Port:      cfg.Printer.Port,
		Baud:      cfg.Printer.Baud,
		ModelID:   cfg.Printer.ModelID,
		CutFeed:   cfg.Print.CutFeed,
		QueueSize: cfg.Print.QueueSize,
		ReceiptOptions: []receipt.Option{
			receipt.WithWidth(cfg.Receipt.Width),
			receipt.WithFooter(cfg.Receipt.Footer),
		},
	},
		service.WithLogger(logger.Named("service")),
		service.WithObserver(hub.Notify))
	defer svc.Stop()

	discovery := ports.NewDiscovery()

	if cfg.Ports.WatchInterval > 0 {
		monitor := ports.NewMonitor(discovery, cfg.Ports.WatchInterval, logger.Named("ports"))
		monitor.OnAdded(hub.PortAdded)
		monitor.OnRemoved(hub.PortRemoved)
		monitor.Start()
		defer monitor.Stop()
	}

	server := api.NewServer(svc, manager, discovery, hub, logger.Named("api"))

	serverErrChan := make(chan error, 1)
	go func() {
		logger.Info("starting printer bridge",
			zap.String("version", Version),
			zap.String("address", cfg.Server.Address),
			zap.String("driver", cfg.Driver.Kind),
			zap.String("port", cfg.Printer.Port),
			zap.Int("baud", cfg.Printer.Baud))
		serverErrChan <- server.Run(cfg.Server.Address)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrChan:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	case sig := <-sigChan:
		logger.Info("shutting down", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("server shutdown failed", zap.Error(err))
		}
	}
}
