// ABOUTME: Entry point for the ClassClock clock display
// ABOUTME: Parses CLI flags, loads configuration and starts the application
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/classclock/classclock-go/internal/app"
	"github.com/classclock/classclock-go/internal/config"
	"github.com/classclock/classclock-go/internal/version"
	"github.com/classclock/classclock-go/pkg/timesync"
)

var (
	configPath = flag.String("config", "classclock.yaml", "Configuration file path")
	storePath  = flag.String("store", "", "Settings directory (overrides config; empty keeps config value)")
	bridgeMode = flag.String("bridge", "", "NTP bridge mode: local, remote or none (overrides config)")
	bridgeAddr = flag.String("bridge-addr", "", "Remote bridge address (skip mDNS)")
	logFile    = flag.String("log-file", "", "Log file path (overrides config)")
	noTUI      = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	once       = flag.Bool("once", false, "Run one sync, print the result and exit")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("%s %s\n", version.Product, version.Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	useTUI := !(*noTUI || *once)

	// Set up logging
	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	appConfig, err := app.FromFile(cfg)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	appConfig.UseTUI = useTUI

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	clock, err := app.New(ctx, appConfig)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer func() {
		if err := clock.Close(); err != nil {
			log.Printf("Error closing settings store: %v", err)
		}
	}()

	if *once {
		if err := syncOnce(ctx, clock); err != nil {
			log.Printf("Sync failed: %v", err)
			cancel()
			clock.Close()
			os.Exit(1)
		}
		return
	}

	if err := clock.Run(ctx); err != nil {
		log.Printf("Stopped with error: %v", err)
		return
	}
	log.Printf("Clock stopped")
}

// applyFlags lets explicit flags win over the configuration file
func applyFlags(cfg *config.Config) {
	if *storePath != "" {
		cfg.Store.Path = *storePath
	}
	if *bridgeMode != "" {
		cfg.Bridge.Mode = *bridgeMode
	}
	if *bridgeAddr != "" {
		cfg.Bridge.Addr = *bridgeAddr
		if *bridgeMode == "" {
			cfg.Bridge.Mode = config.BridgeRemote
		}
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}
}

// syncOnce prints a single run and its samples
func syncOnce(ctx context.Context, clock *app.Clock) error {
	s, res, err := clock.SyncOnce(ctx)
	if err != nil {
		if kind := timesync.Kind(err); kind != "" {
			return fmt.Errorf("[%s] %w", kind, err)
		}
		return err
	}

	endpoint, _ := s.Endpoint()
	fmt.Printf("Provider: %s (%s)\n", s.Provider, endpoint)
	fmt.Printf("Offset:   %+dms\n", res.OffsetMs)
	fmt.Printf("RTT:      %dms\n", res.RTTMs)
	fmt.Printf("Server:   %s\n", time.UnixMilli(res.ServerEpochMs).Format(time.RFC3339Nano))
	fmt.Println()
	fmt.Printf("%-4s %10s %8s  %s\n", "#", "offset", "rtt", "measured at")
	for i, sample := range res.Samples {
		fmt.Printf("%-4d %+8dms %6dms  %s\n", i+1, sample.OffsetMs, sample.RTTMs,
			time.UnixMilli(sample.MeasuredAt).Format("15:04:05.000"))
	}
	return nil
}
