// ABOUTME: Time sync data model
// ABOUTME: Defines providers, persisted settings, patches and measurement results
package timesync

import (
	"fmt"
	"strings"
)

// Provider identifies the kind of time source
type Provider string

const (
	ProviderHTTPDate Provider = "httpDate"
	ProviderTimeAPI  Provider = "timeApi"
	ProviderNTP      Provider = "ntp"
)

// Providers lists every supported provider
var Providers = []Provider{ProviderHTTPDate, ProviderTimeAPI, ProviderNTP}

// ParseProvider converts a wire name into a Provider
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.TrimSpace(s))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown provider %q", ErrUnsupportedProvider, s)
	}
	return p, nil
}

// Valid reports whether p is one of the known providers
func (p Provider) Valid() bool {
	switch p {
	case ProviderHTTPDate, ProviderTimeAPI, ProviderNTP:
		return true
	}
	return false
}

func (p Provider) String() string {
	return string(p)
}

// DefaultNTPPort is the standard NTP UDP port
const DefaultNTPPort = 123

// Settings is the persisted time sync configuration and last result
type Settings struct {
	Provider            Provider `json:"provider" yaml:"provider"`
	Enabled             bool     `json:"enabled" yaml:"enabled"`
	HTTPDateURL         string   `json:"httpDateUrl" yaml:"http_date_url"`
	TimeAPIURL          string   `json:"timeApiUrl" yaml:"time_api_url"`
	NTPHost             string   `json:"ntpHost" yaml:"ntp_host"`
	NTPPort             int      `json:"ntpPort" yaml:"ntp_port"`
	AutoSyncEnabled     bool     `json:"autoSyncEnabled" yaml:"auto_sync_enabled"`
	AutoSyncIntervalSec int      `json:"autoSyncIntervalSec" yaml:"auto_sync_interval_sec"`
	ManualOffsetMs      int64    `json:"manualOffsetMs" yaml:"manual_offset_ms"`

	// Last network result
	OffsetMs   int64  `json:"offsetMs" yaml:"-"`
	LastSyncAt *int64 `json:"lastSyncAt" yaml:"-"`
	LastRTTMs  *int64 `json:"lastRttMs" yaml:"-"`
	LastError  string `json:"lastError" yaml:"-"`
}

// DefaultSettings returns settings for a fresh install
func DefaultSettings() Settings {
	return Settings{
		Provider:            ProviderHTTPDate,
		Enabled:             false,
		HTTPDateURL:         "https://www.google.com/generate_204",
		NTPHost:             "pool.ntp.org",
		NTPPort:             DefaultNTPPort,
		AutoSyncEnabled:     true,
		AutoSyncIntervalSec: 3600,
	}
}

// Endpoint returns the URL or host for the active provider
func (s Settings) Endpoint() (string, error) {
	var endpoint string
	switch s.Provider {
	case ProviderHTTPDate:
		endpoint = s.HTTPDateURL
	case ProviderTimeAPI:
		endpoint = s.TimeAPIURL
	case ProviderNTP:
		endpoint = s.NTPHost
	default:
		return "", fmt.Errorf("%w: unknown provider %q", ErrUnsupportedProvider, s.Provider)
	}

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", fmt.Errorf("%w: no endpoint for provider %s", ErrConfig, s.Provider)
	}
	return endpoint, nil
}

// Patch is a partial settings update; nil fields are left untouched
type Patch struct {
	Provider            *Provider
	Enabled             *bool
	HTTPDateURL         *string
	TimeAPIURL          *string
	NTPHost             *string
	NTPPort             *int
	AutoSyncEnabled     *bool
	AutoSyncIntervalSec *int
	ManualOffsetMs      *int64
	OffsetMs            *int64
	LastSyncAt          *int64
	LastRTTMs           *int64
	LastError           *string
}

// Apply merges p into s and returns the result
func (s Settings) Apply(p Patch) Settings {
	if p.Provider != nil {
		s.Provider = *p.Provider
	}
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.HTTPDateURL != nil {
		s.HTTPDateURL = *p.HTTPDateURL
	}
	if p.TimeAPIURL != nil {
		s.TimeAPIURL = *p.TimeAPIURL
	}
	if p.NTPHost != nil {
		s.NTPHost = *p.NTPHost
	}
	if p.NTPPort != nil {
		s.NTPPort = *p.NTPPort
	}
	if p.AutoSyncEnabled != nil {
		s.AutoSyncEnabled = *p.AutoSyncEnabled
	}
	if p.AutoSyncIntervalSec != nil {
		s.AutoSyncIntervalSec = *p.AutoSyncIntervalSec
	}
	if p.ManualOffsetMs != nil {
		s.ManualOffsetMs = *p.ManualOffsetMs
	}
	if p.OffsetMs != nil {
		s.OffsetMs = *p.OffsetMs
	}
	if p.LastSyncAt != nil {
		v := *p.LastSyncAt
		s.LastSyncAt = &v
	}
	if p.LastRTTMs != nil {
		v := *p.LastRTTMs
		s.LastRTTMs = &v
	}
	if p.LastError != nil {
		s.LastError = *p.LastError
	}
	return s
}

// SampleResult is one raw offset measurement. All values are milliseconds;
// ServerEpochMs and MeasuredAt are Unix epoch milliseconds.
type SampleResult struct {
	OffsetMs      int64 `json:"offsetMs"`
	RTTMs         int64 `json:"rttMs"`
	ServerEpochMs int64 `json:"serverEpochMs"`
	MeasuredAt    int64 `json:"measuredAt"`
}

// RunResult is the reduced estimate of one run plus every raw sample
type RunResult struct {
	OffsetMs      int64          `json:"offsetMs"`
	RTTMs         int64          `json:"rttMs"`
	ServerEpochMs int64          `json:"serverEpochMs"`
	MeasuredAt    int64          `json:"measuredAt"`
	Samples       []SampleResult `json:"samples"`
}
