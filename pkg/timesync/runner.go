// ABOUTME: Multi-sample sync run with RTT-based sample selection
// ABOUTME: Keeps the median offset of the lowest-RTT samples
package timesync

import (
	"cmp"
	"context"
	"math"
	"slices"
	"time"
)

const (
	DefaultSamples = 3
	MinSamples     = 1
	MaxSamples     = 9

	DefaultTimeout = 8 * time.Second
	MinTimeout     = 1 * time.Second
	MaxTimeout     = 30 * time.Second

	// selectCount is how many lowest-RTT samples feed the median
	selectCount = 3
)

// Measurer takes one raw measurement
type Measurer interface {
	MeasureOnce(ctx context.Context, provider Provider, endpoint string, port int, timeout time.Duration) (SampleResult, error)
}

// Runner reduces several samples from one provider into a single estimate
type Runner struct {
	measurer Measurer
}

// NewRunner creates a runner on top of m
func NewRunner(m Measurer) *Runner {
	return &Runner{measurer: m}
}

type runOptions struct {
	port    int
	samples int
	timeout time.Duration
}

// Option customizes a SyncTime call
type Option func(*runOptions)

// WithPort sets the port used by the ntp provider
func WithPort(port int) Option {
	return func(o *runOptions) { o.port = port }
}

// WithSamples sets the sample count, clamped to [MinSamples, MaxSamples]
func WithSamples(n int) Option {
	return func(o *runOptions) { o.samples = n }
}

// WithTimeout sets the per-sample timeout, clamped to [MinTimeout, MaxTimeout]
func WithTimeout(d time.Duration) Option {
	return func(o *runOptions) { o.timeout = d }
}

// ClampSamples bounds a requested sample count
func ClampSamples(n int) int {
	return min(max(n, MinSamples), MaxSamples)
}

// ClampTimeout bounds a requested per-sample timeout
func ClampTimeout(d time.Duration) time.Duration {
	return min(max(d, MinTimeout), MaxTimeout)
}

// SyncTime takes the requested number of samples one after another and
// reduces them. The first failing sample aborts the run and its error is
// returned unchanged.
func (r *Runner) SyncTime(ctx context.Context, provider Provider, endpoint string, opts ...Option) (RunResult, error) {
	o := runOptions{samples: DefaultSamples, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	n := ClampSamples(o.samples)
	timeout := ClampTimeout(o.timeout)

	samples := make([]SampleResult, 0, n)
	for i := 0; i < n; i++ {
		s, err := r.measurer.MeasureOnce(ctx, provider, endpoint, o.port, timeout)
		if err != nil {
			return RunResult{}, err
		}
		samples = append(samples, s)
	}

	return Reduce(samples), nil
}

// Reduce picks the lowest-RTT samples and takes the median of their
// offsets. RTT, server time and measurement time come from the single best
// sample. samples is kept as-is in the result.
func Reduce(samples []SampleResult) RunResult {
	if len(samples) == 0 {
		return RunResult{}
	}

	byRTT := slices.Clone(samples)
	slices.SortStableFunc(byRTT, func(a, b SampleResult) int {
		return cmp.Compare(a.RTTMs, b.RTTMs)
	})

	best := byRTT[:min(selectCount, len(byRTT))]
	offsets := make([]int64, len(best))
	for i, s := range best {
		offsets[i] = s.OffsetMs
	}

	return RunResult{
		OffsetMs:      median(offsets),
		RTTMs:         best[0].RTTMs,
		ServerEpochMs: best[0].ServerEpochMs,
		MeasuredAt:    best[0].MeasuredAt,
		Samples:       samples,
	}
}

// median of an even count is the rounded mean of the two middle values
func median(values []int64) int64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return int64(math.Round(float64(sorted[mid-1]+sorted[mid]) / 2))
}
