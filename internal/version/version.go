// ABOUTME: Product and version constants
// ABOUTME: Reported in logs, the TUI header and mDNS advertisements
package version

const (
	Version      = "0.3.0"
	Product      = "ClassClock"
	Manufacturer = "ClassClock Project"
)

// BridgeName is the default mDNS instance name of a bridge host
const BridgeName = Product + " Bridge"
