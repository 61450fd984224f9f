// ABOUTME: Time synchronization package
// ABOUTME: Measures clock offset against HTTP, JSON time API and NTP sources
// Package timesync estimates the offset between the local wall clock and a
// trusted time source, and exposes an adjusted clock built on that offset.
//
// A Sampler takes one raw measurement, a Runner takes several and keeps the
// median offset of the lowest-RTT samples.
//
// Example:
//
//	runner := timesync.NewRunner(timesync.NewSampler(nil))
//	res, err := runner.SyncTime(ctx, timesync.ProviderHTTPDate, "https://example.com/", timesync.WithSamples(5))
//	fmt.Printf("offset=%dms rtt=%dms\n", res.OffsetMs, res.RTTMs)
package timesync
