// ABOUTME: Adjusted clock built from persisted settings
// ABOUTME: Pure functions combining network offset, manual offset and wall clock
package timesync

import "time"

// EffectiveOffsetMs is the correction applied to the wall clock. It is zero
// whenever sync is disabled.
func EffectiveOffsetMs(s Settings) int64 {
	if !s.Enabled {
		return 0
	}
	return s.OffsetMs + s.ManualOffsetMs
}

// AdjustedNowMs returns the corrected current time in Unix milliseconds
func AdjustedNowMs(s Settings) int64 {
	return AdjustedNowMsAt(s, time.Now())
}

// AdjustedNowMsAt is AdjustedNowMs for a given wall-clock reading
func AdjustedNowMsAt(s Settings, now time.Time) int64 {
	return now.UnixMilli() + EffectiveOffsetMs(s)
}

// AdjustedTime returns the corrected current time
func AdjustedTime(s Settings) time.Time {
	return time.UnixMilli(AdjustedNowMs(s))
}
