// ABOUTME: NTP exchange performed directly on the host
// ABOUTME: Wraps beevik/ntp and converts its response into a millisecond sample
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/ntp"
	"github.com/classclock/classclock-go/pkg/timesync"
)

// LocalNTP queries NTP servers over UDP from this process. It is the bridge
// used by the bridge host and by runtimes that can open UDP sockets.
type LocalNTP struct {
	Now func() time.Time
}

// NewLocalNTP creates a host-side NTP bridge
func NewLocalNTP() *LocalNTP {
	return &LocalNTP{Now: time.Now}
}

// NTP runs one client/server exchange against host:port
func (l *LocalNTP) NTP(ctx context.Context, host string, port int, timeout time.Duration) (timesync.SampleResult, error) {
	if err := ctx.Err(); err != nil {
		return timesync.SampleResult{}, fmt.Errorf("%w: %w", timesync.ErrNetwork, err)
	}
	if host == "" {
		return timesync.SampleResult{}, fmt.Errorf("%w: no ntp host", timesync.ErrConfig)
	}
	if port <= 0 {
		port = timesync.DefaultNTPPort
	}
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}

	resp, err := ntp.QueryWithOptions(host, ntp.QueryOptions{
		Port:    port,
		Timeout: timeout,
	})
	if err != nil {
		return timesync.SampleResult{}, fmt.Errorf("%w: ntp query to %s:%d failed: %w", timesync.ErrNetwork, host, port, err)
	}
	if err := resp.Validate(); err != nil {
		return timesync.SampleResult{}, fmt.Errorf("%w: unusable ntp response from %s: %w", timesync.ErrProtocol, host, err)
	}

	return timesync.SampleResult{
		OffsetMs:      resp.ClockOffset.Round(time.Millisecond).Milliseconds(),
		RTTMs:         max(resp.RTT.Round(time.Millisecond).Milliseconds(), 0),
		ServerEpochMs: resp.Time.UnixMilli(),
		MeasuredAt:    l.Now().UnixMilli(),
	}, nil
}
