// ABOUTME: Error taxonomy for time sync failures
// ABOUTME: Sentinel errors wrapped by concrete failures, classified with errors.Is
package timesync

import "errors"

var (
	// ErrNetwork is a transport or timeout failure
	ErrNetwork = errors.New("network error")
	// ErrProtocol is a malformed or missing required header/status
	ErrProtocol = errors.New("protocol error")
	// ErrParse is a response body without any recognized time field
	ErrParse = errors.New("parse error")
	// ErrUnsupportedProvider means the provider or its bridge is not available
	ErrUnsupportedProvider = errors.New("unsupported provider")
	// ErrConfig means no endpoint is configured for the active provider
	ErrConfig = errors.New("config error")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrNetwork, "network"},
	{ErrProtocol, "protocol"},
	{ErrParse, "parse"},
	{ErrUnsupportedProvider, "unsupported"},
	{ErrConfig, "config"},
}

// Kind returns the taxonomy name of err, or "" when it is unclassified
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}

// KindError returns the sentinel for a taxonomy name. Unknown names map to
// ErrNetwork since they can only arrive over a transport.
func KindError(name string) error {
	for _, k := range kinds {
		if k.name == name {
			return k.err
		}
	}
	return ErrNetwork
}
