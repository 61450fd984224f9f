// ABOUTME: Entry point for the ClassClock NTP bridge host
// ABOUTME: Serves timeSync.ntp requests for clock displays that cannot send UDP
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/classclock/classclock-go/internal/bridge"
	"github.com/classclock/classclock-go/internal/config"
	"github.com/classclock/classclock-go/internal/version"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "classclock.yaml", "Configuration file path")
	port       = flag.Int("port", 0, "WebSocket port (overrides config)")
	name       = flag.String("name", "", "Bridge friendly name (overrides config)")
	logFile    = flag.String("log-file", "classclock-bridge.log", "Log file path")
	noMDNS     = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	rps        = flag.Float64("rps", bridge.DefaultRequestsPerSecond, "Requests per second allowed per connection")
)

func main() {
	flag.Parse()

	// Set up logging (both file and console)
	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(os.Stdout, f))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Bridge.Port = *port
	}
	if *noMDNS {
		cfg.Bridge.EnableMDNS = false
	}

	if *name != "" {
		cfg.Bridge.Name = *name
	}

	log.Printf("Starting %s %s: %s on port %d", version.BridgeName, version.Version, cfg.Bridge.Name, cfg.Bridge.Port)
	log.Printf("Logging to: %s", *logFile)
	log.Printf("Press Ctrl-C to stop")

	srv := bridge.NewServer(bridge.Config{
		Port:              cfg.Bridge.Port,
		Name:              cfg.Bridge.Name,
		EnableMDNS:        cfg.Bridge.EnableMDNS,
		RequestsPerSecond: *rps,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Start returns after Stop or when the listener fails
		defer cancel()
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Printf("Shutting down gracefully...")
		srv.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Bridge error: %v", err)
	}
	log.Printf("Bridge stopped")
}
