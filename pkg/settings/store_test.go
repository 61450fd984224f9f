// ABOUTME: Tests for the memory and Badger settings stores
// ABOUTME: Tests defaults, merge-patch updates, persistence and cross-view watching
package settings

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/classclock/classclock-go/pkg/timesync"
	"github.com/google/go-cmp/cmp"
)

type store interface {
	TimeSyncSettings() (timesync.Settings, error)
	UpdateTimeSyncSettings(timesync.Patch) error
	Watch(ctx context.Context, fn func(key string)) error
}

func openStores(t *testing.T) map[string][2]store {
	t.Helper()

	mem := NewMemoryStore(timesync.DefaultSettings())

	db, err := OpenBadger("", timesync.DefaultSettings())
	if err != nil {
		t.Fatalf("failed to open badger store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return map[string][2]store{
		"memory": {mem, mem.View()},
		"badger": {db, db.View()},
	}
}

func TestDefaultsBeforeFirstWrite(t *testing.T) {
	for name, views := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := views[0].TimeSyncSettings()
			if err != nil {
				t.Fatalf("read failed: %v", err)
			}
			if diff := cmp.Diff(timesync.DefaultSettings(), got); diff != "" {
				t.Errorf("defaults mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMergePatch(t *testing.T) {
	for name, views := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			offset := int64(1500)
			syncAt := int64(1_700_000_000_000)
			rtt := int64(42)
			empty := ""
			if err := views[0].UpdateTimeSyncSettings(timesync.Patch{
				OffsetMs:   &offset,
				LastSyncAt: &syncAt,
				LastRTTMs:  &rtt,
				LastError:  &empty,
			}); err != nil {
				t.Fatalf("update failed: %v", err)
			}

			failure := "network error: timeout"
			later := syncAt + 60_000
			if err := views[1].UpdateTimeSyncSettings(timesync.Patch{
				LastSyncAt: &later,
				LastError:  &failure,
			}); err != nil {
				t.Fatalf("update failed: %v", err)
			}

			got, err := views[0].TimeSyncSettings()
			if err != nil {
				t.Fatalf("read failed: %v", err)
			}

			want := timesync.DefaultSettings()
			want.OffsetMs = 1500
			want.LastSyncAt = &later
			want.LastRTTMs = &rtt
			want.LastError = failure
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("settings mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWatchSeesOtherViewsOnly(t *testing.T) {
	for name, views := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			changes := make(chan string, 100)
			watchDone := make(chan error, 1)
			go func() {
				watchDone <- views[0].Watch(ctx, func(key string) { changes <- key })
			}()

			// Writes through the watching view itself are never reported
			manual := int64(10)
			deadline := time.After(5 * time.Second)
			tick := time.NewTicker(20 * time.Millisecond)
			defer tick.Stop()

			// Subscription setup is asynchronous, so keep writing from the
			// other view until one change arrives
			var key string
		wait:
			for {
				select {
				case key = <-changes:
					break wait
				case <-tick.C:
					if err := views[0].UpdateTimeSyncSettings(timesync.Patch{ManualOffsetMs: &manual}); err != nil {
						t.Fatalf("own update failed: %v", err)
					}
					if err := views[1].UpdateTimeSyncSettings(timesync.Patch{ManualOffsetMs: &manual}); err != nil {
						t.Fatalf("other update failed: %v", err)
					}
				case <-deadline:
					t.Fatal("timed out waiting for change notification")
				}
			}

			if key != Key {
				t.Errorf("expected key %q, got %q", Key, key)
			}

			cancel()
			select {
			case err := <-watchDone:
				if err != nil {
					t.Errorf("watch returned error: %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("watch did not stop after cancel")
			}
		})
	}
}

func TestWatchIgnoresOwnWrites(t *testing.T) {
	mem := NewMemoryStore(timesync.DefaultSettings())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan string, 10)
	registered := make(chan struct{})
	go func() {
		close(registered)
		mem.Watch(ctx, func(key string) { changes <- key })
	}()
	<-registered
	time.Sleep(20 * time.Millisecond)

	on := true
	if err := mem.UpdateTimeSyncSettings(timesync.Patch{Enabled: &on}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	select {
	case key := <-changes:
		t.Errorf("unexpected notification for own write: %q", key)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "settings")

	db, err := OpenBadger(dir, timesync.DefaultSettings())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	provider := timesync.ProviderNTP
	host := "time.example.org"
	if err := db.UpdateTimeSyncSettings(timesync.Patch{Provider: &provider, NTPHost: &host}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	// Closing a view must not close the database
	if err := db.View().Close(); err != nil {
		t.Fatalf("view close failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	db, err = OpenBadger(dir, timesync.DefaultSettings())
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer db.Close()

	got, err := db.TimeSyncSettings()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.Provider != timesync.ProviderNTP || got.NTPHost != host {
		t.Errorf("expected ntp/%s after reopen, got %s/%s", host, got.Provider, got.NTPHost)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	syncAt := int64(123)
	in := record{Origin: "window-1", Settings: timesync.DefaultSettings()}
	in.Settings.LastSyncAt = &syncAt

	data, err := encodeRecord(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	out, err := decodeRecord(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	if _, err := decodeRecord([]byte{0xc1}); err == nil {
		t.Error("expected error decoding garbage")
	}
}
