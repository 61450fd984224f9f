// ABOUTME: Clock display application orchestration
// ABOUTME: Wires settings store, event bus, NTP bridge, sync manager and TUI together
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/classclock/classclock-go/internal/bridge"
	"github.com/classclock/classclock-go/internal/config"
	"github.com/classclock/classclock-go/internal/discovery"
	"github.com/classclock/classclock-go/internal/ui"
	"github.com/classclock/classclock-go/internal/version"
	"github.com/classclock/classclock-go/pkg/events"
	"github.com/classclock/classclock-go/pkg/manager"
	"github.com/classclock/classclock-go/pkg/settings"
	"github.com/classclock/classclock-go/pkg/timesync"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"
)

// discoveryTimeout bounds the mDNS search for a remote bridge
const discoveryTimeout = 10 * time.Second

// errQuit ends Run when the user leaves the TUI
var errQuit = errors.New("quit requested")

// Config holds application configuration
type Config struct {
	StorePath  string
	BridgeMode string
	BridgeAddr string
	Samples    int
	Timeout    time.Duration

	// Initial seeds an empty store
	Initial timesync.Settings
	UseTUI  bool
}

// FromFile converts a loaded configuration file
func FromFile(c *config.Config) (Config, error) {
	timeout, err := c.Sync.TimeoutDuration()
	if err != nil {
		return Config{}, err
	}

	return Config{
		StorePath:  c.Store.Path,
		BridgeMode: c.Bridge.Mode,
		BridgeAddr: c.Bridge.Addr,
		Samples:    c.Sync.Samples,
		Timeout:    timeout,
		Initial:    c.Settings,
	}, nil
}

// view is one window onto the settings
type view interface {
	manager.Store
	Watch(ctx context.Context, fn func(key string)) error
}

// Clock is the clock display application
type Clock struct {
	config Config
	bus    *events.Bus

	// syncView is used by the manager, uiView by keyboard controls
	syncView view
	uiView   view
	close    func() error

	bridge      timesync.NTPBridge
	bridgeLabel string
	runner      *timesync.Runner
	manager     *manager.Manager

	controls *ui.Controls
	tuiProg  *tea.Program
}

// New opens the store and builds every component. ctx bounds bridge discovery.
func New(ctx context.Context, config Config) (*Clock, error) {
	c := &Clock{
		config: config,
		bus:    events.NewBus(),
	}

	if err := c.openStore(); err != nil {
		return nil, err
	}

	c.bridge, c.bridgeLabel = c.openBridge(ctx)
	c.runner = timesync.NewRunner(timesync.NewSampler(c.bridge))
	c.manager = manager.New(manager.Config{
		Store:       c.syncView,
		Bus:         c.bus,
		Syncer:      c.runner,
		SettingsKey: settings.Key,
		Samples:     config.Samples,
		Timeout:     config.Timeout,
	})

	return c, nil
}

func (c *Clock) openStore() error {
	if c.config.StorePath == "" {
		mem := settings.NewMemoryStore(c.config.Initial)
		c.syncView, c.uiView = mem, mem.View()
		c.close = func() error { return nil }
		log.Printf("Settings kept in memory")
		return nil
	}

	db, err := settings.OpenBadger(c.config.StorePath, c.config.Initial)
	if err != nil {
		return err
	}
	c.syncView, c.uiView = db, db.View()
	c.close = db.Close
	log.Printf("Settings stored in %s", c.config.StorePath)
	return nil
}

// openBridge picks how ntp requests leave the process
func (c *Clock) openBridge(ctx context.Context) (timesync.NTPBridge, string) {
	switch c.config.BridgeMode {
	case config.BridgeNone:
		return timesync.UnavailableBridge{}, "none"

	case config.BridgeRemote:
		addr := c.config.BridgeAddr
		if addr == "" {
			log.Printf("Searching for bridge via mDNS...")
			disc := discovery.NewManager(discovery.Config{})
			defer disc.Stop()

			dctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
			defer cancel()

			found, err := disc.First(dctx)
			if err != nil {
				log.Printf("No bridge available, ntp provider disabled: %v", err)
				return timesync.UnavailableBridge{}, "none (no bridge found)"
			}
			addr = found.Addr()
			log.Printf("Discovered bridge %s at %s", found.Name, addr)
		}
		return bridge.NewClient(bridge.ClientConfig{ServerAddr: addr}), "remote " + addr

	default:
		return bridge.NewLocalNTP(), "local"
	}
}

// Bus returns the application event bus
func (c *Clock) Bus() *events.Bus {
	return c.bus
}

// BridgeLabel describes the active ntp bridge
func (c *Clock) BridgeLabel() string {
	return c.bridgeLabel
}

// Settings returns the current settings
func (c *Clock) Settings() (timesync.Settings, error) {
	return c.uiView.TimeSyncSettings()
}

// SyncOnce runs a single sync with the stored settings and persists nothing
func (c *Clock) SyncOnce(ctx context.Context) (timesync.Settings, timesync.RunResult, error) {
	s, err := c.syncView.TimeSyncSettings()
	if err != nil {
		return s, timesync.RunResult{}, err
	}

	endpoint, err := s.Endpoint()
	if err != nil {
		return s, timesync.RunResult{}, err
	}

	opts := []timesync.Option{timesync.WithPort(s.NTPPort)}
	if c.config.Samples > 0 {
		opts = append(opts, timesync.WithSamples(c.config.Samples))
	}
	if c.config.Timeout > 0 {
		opts = append(opts, timesync.WithTimeout(c.config.Timeout))
	}

	res, err := c.runner.SyncTime(ctx, s.Provider, endpoint, opts...)
	return s, res, err
}

// Run starts the manager and serves until ctx is done or the user quits
func (c *Clock) Run(ctx context.Context) error {
	log.Printf("%s %s starting (bridge: %s)", version.Product, version.Version, c.bridgeLabel)

	initial, err := c.uiView.TimeSyncSettings()
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}

	if c.config.UseTUI {
		c.controls = ui.NewControls()
		c.tuiProg, err = ui.Run(c.controls, initial)
		if err != nil {
			return fmt.Errorf("failed to start TUI: %w", err)
		}
	}

	stop := c.manager.Start()
	defer c.manager.Wait()
	defer stop()

	// Updated marks the end of a run
	unsubscribe := c.bus.Subscribe(events.Updated, func(events.Message) {
		c.refreshUI(false)
	})
	defer unsubscribe()

	g, ctx := errgroup.WithContext(ctx)

	// Writes made through the other view reach the manager as storage events
	g.Go(func() error {
		return c.syncView.Watch(ctx, func(key string) {
			c.bus.Publish(events.Message{Event: events.StorageChanged, Key: key})
		})
	})
	g.Go(func() error {
		return c.uiView.Watch(ctx, func(string) {
			c.refreshUI(c.manager.IsSyncing())
		})
	})

	if c.tuiProg != nil {
		g.Go(func() error {
			return c.handleControls(ctx)
		})
		g.Go(func() error {
			if _, err := c.tuiProg.Run(); err != nil {
				return fmt.Errorf("TUI failed: %w", err)
			}
			return errQuit
		})
		g.Go(func() error {
			<-ctx.Done()
			c.tuiProg.Quit()
			return nil
		})
		go c.tuiProg.Send(ui.StatusMsg{Bridge: c.bridgeLabel})
	}

	if initial.Enabled {
		c.bus.Emit(events.SyncNow)
	}

	err = g.Wait()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handleControls applies TUI requests until ctx is done
func (c *Clock) handleControls(ctx context.Context) error {
	for {
		select {
		case req := <-c.controls.Requests:
			if err := c.apply(req); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				log.Printf("Control request failed: %v", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// apply performs one user request
func (c *Clock) apply(req tea.Msg) error {
	switch req := req.(type) {
	case ui.SyncNowMsg:
		log.Printf("Manual sync requested")
		c.bus.Emit(events.SyncNow)
		c.refreshUI(c.manager.IsSyncing())

	case ui.SetEnabledMsg:
		log.Printf("Time sync enabled: %v", req.Enabled)
		if err := c.uiView.UpdateTimeSyncSettings(timesync.Patch{Enabled: &req.Enabled}); err != nil {
			return err
		}
		c.bus.Emit(events.SettingsSaved)

	case ui.ManualOffsetMsg:
		log.Printf("Manual offset set to %+dms", req.OffsetMs)
		if err := c.uiView.UpdateTimeSyncSettings(timesync.Patch{ManualOffsetMs: &req.OffsetMs}); err != nil {
			return err
		}
		c.refreshUI(c.manager.IsSyncing())

	case ui.QuitMsg:
		log.Printf("Received quit signal from TUI")
		return errQuit
	}
	return nil
}

// refreshUI pushes the latest settings and sync state to the TUI
func (c *Clock) refreshUI(syncing bool) {
	if c.tuiProg == nil {
		return
	}

	s, err := c.uiView.TimeSyncSettings()
	if err != nil {
		log.Printf("Cannot refresh display: %v", err)
		return
	}
	c.tuiProg.Send(ui.StatusMsg{Settings: &s, Syncing: &syncing})
}

// Close releases the store and the bridge connection
func (c *Clock) Close() error {
	if client, ok := c.bridge.(*bridge.Client); ok {
		client.Close()
	}
	return c.close()
}
