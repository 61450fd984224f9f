// ABOUTME: Single offset measurement against one time provider
// ABOUTME: HTTP Date header, JSON time API and NTP bridge samplers with no retries
package timesync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// maxBodyBytes bounds how much of a time API response is decoded
const maxBodyBytes = 1 << 20

// NTPBridge performs an NTP exchange outside the sandboxed runtime.
// Implementations do the offset/RTT arithmetic themselves.
type NTPBridge interface {
	NTP(ctx context.Context, host string, port int, timeout time.Duration) (SampleResult, error)
}

// UnavailableBridge is the NTPBridge of runtimes without a desktop host
type UnavailableBridge struct{}

// NTP always fails with ErrUnsupportedProvider
func (UnavailableBridge) NTP(ctx context.Context, host string, port int, timeout time.Duration) (SampleResult, error) {
	return SampleResult{}, fmt.Errorf("%w: ntp bridge not available in this runtime", ErrUnsupportedProvider)
}

// Sampler takes exactly one raw measurement per call
type Sampler struct {
	Client *http.Client
	Bridge NTPBridge
	Now    func() time.Time
}

// NewSampler creates a sampler; a nil bridge disables the ntp provider
func NewSampler(bridge NTPBridge) *Sampler {
	if bridge == nil {
		bridge = UnavailableBridge{}
	}
	return &Sampler{
		Client: &http.Client{},
		Bridge: bridge,
		Now:    time.Now,
	}
}

// MeasureOnce measures the offset against endpoint using provider. port is
// only used by the ntp provider. Failures are returned as-is, never retried.
func (s *Sampler) MeasureOnce(ctx context.Context, provider Provider, endpoint string, port int, timeout time.Duration) (SampleResult, error) {
	switch provider {
	case ProviderHTTPDate:
		return s.measureHTTPDate(ctx, endpoint, timeout)
	case ProviderTimeAPI:
		return s.measureTimeAPI(ctx, endpoint, timeout)
	case ProviderNTP:
		return s.measureNTP(ctx, endpoint, port, timeout)
	default:
		return SampleResult{}, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
}

// measureHTTPDate reads the server time from the Date response header
func (s *Sampler) measureHTTPDate(ctx context.Context, url string, timeout time.Duration) (SampleResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, t0, t1, err := s.get(ctx, url, "*/*")
	if err != nil {
		return SampleResult{}, err
	}
	defer resp.Body.Close()

	header := resp.Header.Get("Date")
	if header == "" {
		return SampleResult{}, fmt.Errorf("%w: response has no readable Date header", ErrProtocol)
	}

	serverTime, err := http.ParseTime(header)
	if err != nil {
		return SampleResult{}, fmt.Errorf("%w: invalid Date header %q", ErrProtocol, header)
	}

	// Let the connection be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	return midpointSample(serverTime.UnixMilli(), t0, t1), nil
}

// measureTimeAPI reads the server time from a JSON body
func (s *Sampler) measureTimeAPI(ctx context.Context, url string, timeout time.Duration) (SampleResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, t0, t1, err := s.get(ctx, url, "application/json")
	if err != nil {
		return SampleResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return SampleResult{}, fmt.Errorf("%w: time api returned HTTP %d", ErrProtocol, resp.StatusCode)
	}

	var body any
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return SampleResult{}, fmt.Errorf("%w: body is not JSON: %v", ErrParse, err)
	}

	obj, ok := body.(map[string]any)
	if !ok {
		return SampleResult{}, fmt.Errorf("%w: body is not a JSON object", ErrParse)
	}

	serverMs, err := extractEpochMs(obj)
	if err != nil {
		return SampleResult{}, err
	}

	return midpointSample(serverMs, t0, t1), nil
}

// measureNTP forwards to the bridge capability
func (s *Sampler) measureNTP(ctx context.Context, host string, port int, timeout time.Duration) (SampleResult, error) {
	if s.Bridge == nil {
		return UnavailableBridge{}.NTP(ctx, host, port, timeout)
	}
	if port <= 0 {
		port = DefaultNTPPort
	}

	res, err := s.Bridge.NTP(ctx, host, port, timeout)
	if err != nil {
		if Kind(err) == "" {
			return SampleResult{}, fmt.Errorf("%w: %w", ErrNetwork, err)
		}
		return SampleResult{}, err
	}
	return res, nil
}

// get issues a cache-busting GET and returns once headers are available,
// along with the local send/receive instants
func (s *Sampler) get(ctx context.Context, url, accept string) (*http.Response, time.Time, time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	req.Header.Set("Cache-Control", "no-cache, no-store")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Accept", accept)

	t0 := s.Now()
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	t1 := s.Now()

	return resp, t0, t1, nil
}

// midpointSample assumes symmetric latency: the server stamped its time
// halfway between t0 and t1
func midpointSample(serverMs int64, t0, t1 time.Time) SampleResult {
	t0ms := t0.UnixMilli()
	t1ms := t1.UnixMilli()

	rtt := t1ms - t0ms
	if rtt < 0 {
		rtt = 0
	}

	mid := float64(t0ms+t1ms) / 2
	return SampleResult{
		OffsetMs:      int64(math.Round(float64(serverMs) - mid)),
		RTTMs:         rtt,
		ServerEpochMs: serverMs,
		MeasuredAt:    t1ms,
	}
}

// extractEpochMs applies the field priority epochMs, epochSeconds,
// unixtime, datetime, utc_datetime. The first usable field wins.
func extractEpochMs(obj map[string]any) (int64, error) {
	if v, ok := jsonNumber(obj["epochMs"]); ok {
		return int64(math.Round(v)), nil
	}
	if v, ok := jsonNumber(obj["epochSeconds"]); ok {
		return int64(math.Round(v * 1000)), nil
	}
	if v, ok := jsonNumber(obj["unixtime"]); ok {
		return int64(math.Round(v * 1000)), nil
	}
	for _, key := range []string{"datetime", "utc_datetime"} {
		str, ok := obj[key].(string)
		if !ok || str == "" {
			continue
		}
		if t, ok := parseISO8601(str); ok {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("%w: no epochMs, epochSeconds, unixtime or datetime field", ErrParse)
}

// isoLayouts are tried in order; time.Parse reads timestamps without a
// zone as UTC
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

func parseISO8601(s string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func jsonNumber(v any) (float64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
