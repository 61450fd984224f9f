// ABOUTME: mDNS service discovery for the ClassClock NTP bridge
// ABOUTME: Bridge hosts advertise themselves; clock displays browse for them
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	// ServiceType is the DNS-SD service type of a bridge host
	ServiceType = "_classclock-bridge._tcp"

	browseTimeout = 3 * time.Second
)

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	Path        string // websocket path, published as a TXT record
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	bridges chan *BridgeInfo
}

// BridgeInfo describes a discovered bridge host
type BridgeInfo struct {
	Name string
	Host string
	Port int
}

// Addr returns host:port
func (b *BridgeInfo) Addr() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		bridges: make(chan *BridgeInfo, 10),
	}
}

// Advertise advertises this bridge host via mDNS until Stop
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	var txt []string
	if m.config.Path != "" {
		txt = append(txt, "path="+m.config.Path)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		txt,
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Advertising mDNS service: %s on port %d (type: %s)", m.config.ServiceName, m.config.Port, ServiceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for bridge hosts in the background
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

// browseLoop keeps querying until Stop
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)

		go func() {
			for entry := range entries {
				bridge := entryToBridge(entry)
				if bridge == nil {
					continue
				}

				log.Printf("Discovered bridge: %s at %s", bridge.Name, bridge.Addr())

				select {
				case m.bridges <- bridge:
				case <-m.ctx.Done():
					return
				}
			}
		}()

		params := &mdns.QueryParam{
			Service: ServiceType,
			Domain:  "local",
			Timeout: browseTimeout,
			Entries: entries,
		}

		if err := mdns.Query(params); err != nil {
			log.Printf("mDNS query failed: %v", err)
			// Avoid spinning when no interface supports multicast
			select {
			case <-time.After(browseTimeout):
			case <-m.ctx.Done():
			}
		}
		close(entries)
	}
}

// Bridges returns the channel of discovered bridge hosts
func (m *Manager) Bridges() <-chan *BridgeInfo {
	return m.bridges
}

// First browses until a bridge is found or ctx is done
func (m *Manager) First(ctx context.Context) (*BridgeInfo, error) {
	if err := m.Browse(); err != nil {
		return nil, err
	}

	select {
	case b := <-m.bridges:
		return b, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no bridge found: %w", ctx.Err())
	case <-m.ctx.Done():
		return nil, fmt.Errorf("discovery stopped")
	}
}

// Stop stops advertising and browsing
func (m *Manager) Stop() {
	m.cancel()
}

func entryToBridge(entry *mdns.ServiceEntry) *BridgeInfo {
	if entry == nil || entry.Port == 0 {
		return nil
	}

	var host string
	switch {
	case entry.AddrV4 != nil:
		host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		host = entry.AddrV6.String()
	default:
		return nil
	}

	return &BridgeInfo{Name: entry.Name, Host: host, Port: entry.Port}
}

// getLocalIPs returns non-loopback IPv4 addresses of interfaces that are up
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
