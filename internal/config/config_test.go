// ABOUTME: Tests for configuration loading
// ABOUTME: Tests defaults, partial files, validation and timeout parsing
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/classclock/classclock-go/pkg/timesync"
	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "classclock.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestMissingFileYieldsDefault(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(Default(), c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
store:
  path: /var/lib/classclock
bridge:
  mode: remote
  addr: 192.168.1.20:8928
sync:
  samples: 5
settings:
  provider: ntp
  enabled: true
  ntp_host: time.cloudflare.com
`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := Default()
	want.Store.Path = "/var/lib/classclock"
	want.Bridge.Mode = BridgeRemote
	want.Bridge.Addr = "192.168.1.20:8928"
	want.Sync.Samples = 5
	want.Settings.Provider = timesync.ProviderNTP
	want.Settings.Enabled = true
	want.Settings.NTPHost = "time.cloudflare.com"

	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestExplicitEmptyValuesGetDefaults(t *testing.T) {
	path := writeConfig(t, `
bridge:
  mode: ""
  port: 0
log_file: ""
settings:
  provider: ""
  ntp_port: 0
`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Bridge.Mode != BridgeLocal || c.Bridge.Port != 8928 {
		t.Errorf("expected bridge defaults, got %+v", c.Bridge)
	}
	if c.LogFile != "classclock.log" {
		t.Errorf("expected default log file, got %q", c.LogFile)
	}
	if c.Settings.Provider != timesync.ProviderHTTPDate || c.Settings.NTPPort != 123 {
		t.Errorf("expected settings defaults, got %s/%d", c.Settings.Provider, c.Settings.NTPPort)
	}
}

func TestBridgeNameFromFile(t *testing.T) {
	c, err := Load(writeConfig(t, "bridge:\n  name: Room 12 Bridge\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Bridge.Name != "Room 12 Bridge" {
		t.Errorf("expected configured bridge name, got %q", c.Bridge.Name)
	}
}

func TestProviderIsNormalized(t *testing.T) {
	c, err := Load(writeConfig(t, "settings:\n  provider: \" ntp \"\n  ntp_host: pool.ntp.org\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Settings.Provider != timesync.ProviderNTP {
		t.Fatalf("expected provider %q, got %q", timesync.ProviderNTP, c.Settings.Provider)
	}
	if _, err := c.Settings.Endpoint(); err != nil {
		t.Errorf("expected endpoint to resolve, got %v", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "bridge: [unclosed"},
		{"bad mode", "bridge:\n  mode: carrier-pigeon\n"},
		{"bad timeout", "sync:\n  timeout: soon\n"},
		{"bad provider", "settings:\n  provider: sundial\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestTimeoutDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", timesync.DefaultTimeout},
		{"8s", 8 * time.Second},
		{"1500ms", 1500 * time.Millisecond},
		{"2m", 2 * time.Minute},
	}

	for _, tt := range tests {
		got, err := SyncConfig{Timeout: tt.in}.TimeoutDuration()
		if err != nil {
			t.Errorf("TimeoutDuration(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("TimeoutDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
