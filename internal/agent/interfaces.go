package agent

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	psnet "github.com/shirou/gopsutil/v4/net"
)

// Interface describes one network interface.
type Interface struct {
	Name  string   `json:"name"`
	Up    bool     `json:"up"`
	MTU   int      `json:"mtu"`
	MAC   string   `json:"mac"`
	IPv4  []string `json:"ipv4"`
	IPv6  []string `json:"ipv6"`
	Flags []string `json:"flags"`

	// SpeedMbps is the negotiated link speed, 0 when unknown.
	SpeedMbps int    `json:"speed_mbps"`
	Speed     string `json:"speed"`
}

// sysClassNet is where Linux exposes per-interface link attributes.
var sysClassNet = "/sys/class/net"

// ListInterfaces enumerates interfaces, wired first and loopback last.
func ListInterfaces(ctx context.Context) ([]Interface, error) {
	stats, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}
	out := make([]Interface, 0, len(stats))
	for _, s := range stats {
		iface := fromInterfaceStat(s)
		iface.SpeedMbps = readLinkSpeed(s.Name)
		iface.Speed = FormatLinkSpeed(iface.SpeedMbps)
		out = append(out, iface)
	}
	sortInterfaces(out)
	return out, nil
}

func fromInterfaceStat(s psnet.InterfaceStat) Interface {
	iface := Interface{
		Name:  s.Name,
		MTU:   s.MTU,
		MAC:   strings.ToUpper(s.HardwareAddr),
		Flags: s.Flags,
		IPv4:  []string{},
		IPv6:  []string{},
	}
	for _, f := range s.Flags {
		if f == "up" {
			iface.Up = true
		}
	}
	for _, a := range s.Addrs {
		addr := a.Addr
		// drop the zone from link-local addresses
		if host, _, zoned := strings.Cut(addr, "%"); zoned {
			addr = host
		}
		ip, _, err := net.ParseCIDR(addr)
		if err != nil {
			ip = net.ParseIP(addr)
		}
		if ip == nil {
			continue
		}
		if ip.To4() != nil {
			iface.IPv4 = append(iface.IPv4, addr)
		} else {
			iface.IPv6 = append(iface.IPv6, addr)
		}
	}
	return iface
}

// readLinkSpeed returns the link speed in Mbps from sysfs. Virtual and
// down interfaces report -1 or nothing at all; both map to 0.
func readLinkSpeed(name string) int {
	b, err := os.ReadFile(filepath.Join(sysClassNet, name, "speed"))
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// FormatLinkSpeed renders Mbps as "100 Mbps" or "2.5 Gbps".
func FormatLinkSpeed(mbps int) string {
	switch {
	case mbps >= 1000:
		return fmt.Sprintf("%.1f Gbps", float64(mbps)/1000)
	case mbps > 0:
		return fmt.Sprintf("%d Mbps", mbps)
	default:
		return "N/A"
	}
}

// interfaceRank orders ethernet, then wireless, then predictable "en*"
// names, then everything else, with loopback last.
func interfaceRank(name string) int {
	switch {
	case strings.HasPrefix(name, "eth"):
		return 0
	case strings.HasPrefix(name, "wl"):
		return 1
	case strings.HasPrefix(name, "en"):
		return 2
	case strings.HasPrefix(name, "lo"):
		return 99
	default:
		return 10
	}
}

func sortInterfaces(ifaces []Interface) {
	sort.SliceStable(ifaces, func(i, j int) bool {
		ri, rj := interfaceRank(ifaces[i].Name), interfaceRank(ifaces[j].Name)
		if ri != rj {
			return ri < rj
		}
		return ifaces[i].Name < ifaces[j].Name
	})
}
