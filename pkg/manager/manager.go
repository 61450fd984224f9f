// ABOUTME: Background time sync scheduler
// ABOUTME: Runs syncs on a ticker or on demand, one at a time, and persists results
package manager

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/classclock/classclock-go/pkg/events"
	"github.com/classclock/classclock-go/pkg/timesync"
)

const (
	MinIntervalSec = 10
	MaxIntervalSec = 7 * 24 * 60 * 60

	// DefaultSettingsKey is the storage key whose changes reschedule the timer
	DefaultSettingsKey = "timeSync"
)

// Store reads and patches the persisted sync settings
type Store interface {
	TimeSyncSettings() (timesync.Settings, error)
	UpdateTimeSyncSettings(timesync.Patch) error
}

// Syncer performs one complete sync run
type Syncer interface {
	SyncTime(ctx context.Context, provider timesync.Provider, endpoint string, opts ...timesync.Option) (timesync.RunResult, error)
}

// Config holds manager configuration
type Config struct {
	Store  Store
	Bus    *events.Bus
	Syncer Syncer

	// SettingsKey scopes StorageChanged events (default: DefaultSettingsKey)
	SettingsKey string
	// Samples and Timeout are passed to every run; zero uses the runner defaults
	Samples int
	Timeout time.Duration

	Now func() time.Time
}

// Manager schedules sync runs. At most one run is in flight; triggers that
// arrive meanwhile are dropped, not queued.
type Manager struct {
	config    Config
	newTicker func(time.Duration) *time.Ticker

	syncing atomic.Bool
	runs    sync.WaitGroup

	mu   sync.Mutex
	stop func()
}

// New creates a stopped manager
func New(config Config) *Manager {
	if config.SettingsKey == "" {
		config.SettingsKey = DefaultSettingsKey
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Manager{
		config:    config,
		newTicker: time.NewTicker,
	}
}

// ClampInterval bounds the auto-sync interval
func ClampInterval(sec int) time.Duration {
	return time.Duration(min(max(sec, MinIntervalSec), MaxIntervalSec)) * time.Second
}

// Start subscribes to triggers and arms the auto-sync timer. Calling Start
// while running returns the existing stop function. stop is idempotent and
// releases the timer and every subscription.
func (m *Manager) Start() (stop func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stop != nil {
		return m.stop
	}

	ctx, cancel := context.WithCancel(context.Background())
	reschedule := make(chan struct{}, 1)
	requestReschedule := func() {
		select {
		case reschedule <- struct{}{}:
		default:
		}
	}

	bus := m.config.Bus
	unsubscribe := []func(){
		bus.Subscribe(events.SyncNow, func(events.Message) {
			m.trigger("manual")
		}),
		bus.Subscribe(events.SettingsSaved, func(events.Message) {
			requestReschedule()
			m.trigger("settings saved")
		}),
		bus.Subscribe(events.StorageChanged, func(msg events.Message) {
			if msg.Key == m.config.SettingsKey {
				requestReschedule()
			}
		}),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.schedule(ctx, reschedule)
	}()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			m.mu.Lock()
			m.stop = nil
			m.mu.Unlock()

			for _, u := range unsubscribe {
				u()
			}
			cancel()
			<-done
			log.Printf("Time sync manager stopped")
		})
	}
	m.stop = stop

	log.Printf("Time sync manager started")
	return stop
}

// IsSyncing reports whether a run is in flight
func (m *Manager) IsSyncing() bool {
	return m.syncing.Load()
}

// Wait blocks until the in-flight run, if any, has finished
func (m *Manager) Wait() {
	m.runs.Wait()
}

// schedule owns the ticker for the lifetime of one Start
func (m *Manager) schedule(ctx context.Context, reschedule <-chan struct{}) {
	ticker := m.arm(nil)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		var tick <-chan time.Time
		if ticker != nil {
			tick = ticker.C
		}

		select {
		case <-ctx.Done():
			return
		case <-reschedule:
			ticker = m.arm(ticker)
		case <-tick:
			m.trigger("scheduled")
		}
	}
}

// arm replaces old with a ticker derived from the current settings, or
// returns nil when auto sync is off
func (m *Manager) arm(old *time.Ticker) *time.Ticker {
	if old != nil {
		old.Stop()
	}

	s, err := m.config.Store.TimeSyncSettings()
	if err != nil {
		log.Printf("Cannot schedule time sync: %v", err)
		return nil
	}

	if !s.Enabled || !s.AutoSyncEnabled {
		log.Printf("Auto sync off")
		return nil
	}

	interval := ClampInterval(s.AutoSyncIntervalSec)
	log.Printf("Auto sync every %v", interval)
	return m.newTicker(interval)
}

// trigger starts a run unless one is already in flight
func (m *Manager) trigger(reason string) bool {
	if !m.syncing.CompareAndSwap(false, true) {
		log.Printf("Time sync in progress, dropping %s trigger", reason)
		return false
	}

	m.runs.Add(1)
	go func() {
		defer m.runs.Done()
		defer m.syncing.Store(false)
		m.run(reason)
	}()
	return true
}

// run performs one sync and records the outcome. It never fails: errors
// end up in the persisted LastError.
func (m *Manager) run(reason string) {
	s, err := m.config.Store.TimeSyncSettings()
	if err != nil {
		log.Printf("Cannot read time sync settings: %v", err)
		return
	}
	if !s.Enabled {
		return
	}

	endpoint, err := s.Endpoint()
	if errors.Is(err, timesync.ErrConfig) {
		return
	}

	var res timesync.RunResult
	if err == nil {
		res, err = m.config.Syncer.SyncTime(context.Background(), s.Provider, endpoint, m.options(s)...)
	}

	now := m.config.Now().UnixMilli()
	var patch timesync.Patch
	if err != nil {
		msg := err.Error()
		patch = timesync.Patch{LastSyncAt: &now, LastError: &msg}
		log.Printf("Time sync failed (%s, %s): %v", reason, s.Provider, err)
	} else {
		empty := ""
		patch = timesync.Patch{
			OffsetMs:   &res.OffsetMs,
			LastSyncAt: &now,
			LastRTTMs:  &res.RTTMs,
			LastError:  &empty,
		}
		log.Printf("Time sync complete (%s, %s): offset=%dms, rtt=%dms, samples=%d",
			reason, s.Provider, res.OffsetMs, res.RTTMs, len(res.Samples))
	}

	if err := m.config.Store.UpdateTimeSyncSettings(patch); err != nil {
		log.Printf("Cannot save time sync result: %v", err)
	}

	m.config.Bus.Emit(events.Updated)
}

func (m *Manager) options(s timesync.Settings) []timesync.Option {
	var opts []timesync.Option
	if s.Provider == timesync.ProviderNTP {
		opts = append(opts, timesync.WithPort(s.NTPPort))
	}
	if m.config.Samples > 0 {
		opts = append(opts, timesync.WithSamples(m.config.Samples))
	}
	if m.config.Timeout > 0 {
		opts = append(opts, timesync.WithTimeout(m.config.Timeout))
	}
	return opts
}
