package netcheck

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	psnet "github.com/shirou/gopsutil/v4/net"
)

// tunnelTokens identify tunnel adapters by interface name.
var tunnelTokens = []string{"TAP", "TUN", "OPENVPN"}

// Interface is a network interface and its addresses in CIDR form.
type Interface struct {
	Name  string
	Addrs []string
}

// InterfaceSource lists network interfaces.
type InterfaceSource interface {
	Interfaces(ctx context.Context) ([]Interface, error)
}

// Prober runs single reachability probes.
type Prober interface {
	Ping(ctx context.Context, host string) bool
	TCP(ctx context.Context, host string, port int) bool
}

// SystemInterfaces implements InterfaceSource with gopsutil.
type SystemInterfaces struct{}

func (SystemInterfaces) Interfaces(ctx context.Context) ([]Interface, error) {
	stats, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	out := make([]Interface, 0, len(stats))
	for _, s := range stats {
		iface := Interface{Name: s.Name}
		for _, a := range s.Addrs {
			iface.Addrs = append(iface.Addrs, a.Addr)
		}
		out = append(out, iface)
	}
	return out, nil
}

// TunnelAddress returns the first usable IPv4 address bound to a tunnel
// adapter. Loopback, unspecified (0.x) and link-local addresses are skipped.
func TunnelAddress(ifaces []Interface) (string, bool) {
	for _, iface := range ifaces {
		if !isTunnelName(iface.Name) {
			continue
		}
		for _, raw := range iface.Addrs {
			addr, ok := parseAddr(raw)
			if !ok || !addr.Is4() {
				continue
			}
			if addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.As4()[0] == 0 {
				continue
			}
			return addr.String(), true
		}
	}
	return "", false
}

func isTunnelName(name string) bool {
	upper := strings.ToUpper(name)
	for _, tok := range tunnelTokens {
		if strings.Contains(upper, tok) {
			return true
		}
	}
	return false
}

func parseAddr(raw string) (netip.Addr, bool) {
	if p, err := netip.ParsePrefix(raw); err == nil {
		return p.Addr(), true
	}
	a, err := netip.ParseAddr(raw)
	return a, err == nil
}

// SystemProber probes with the system ping binary and TCP connects.
type SystemProber struct {
	PingTimeout time.Duration
	TCPTimeout  time.Duration
}

// NewSystemProber returns a prober with a 1s echo wait and 3s TCP timeout.
func NewSystemProber() *SystemProber {
	return &SystemProber{PingTimeout: time.Second, TCPTimeout: 3 * time.Second}
}

// Ping sends one ICMP echo request. A missing ping binary counts as failure.
func (p *SystemProber) Ping(ctx context.Context, host string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.PingTimeout+2*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "ping", PingArgs(runtime.GOOS, host, p.PingTimeout)...).Run() == nil
}

// TCP reports whether host:port accepts a connection.
func (p *SystemProber) TCP(ctx context.Context, host string, port int) bool {
	_, ok := DialLatency(ctx, host, port, p.TCPTimeout)
	return ok
}

// DialLatency connects to host:port and returns the connect time.
func DialLatency(ctx context.Context, host string, port int, timeout time.Duration) (time.Duration, bool) {
	d := net.Dialer{Timeout: timeout}
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return 0, false
	}
	elapsed := time.Since(start)
	conn.Close()
	return elapsed, true
}

// PingArgs returns ping arguments for one echo on goos.
func PingArgs(goos, host string, timeout time.Duration) []string {
	switch goos {
	case "windows":
		return []string{"-n", "1", "-w", strconv.FormatInt(timeout.Milliseconds(), 10), host}
	case "darwin":
		return []string{"-c", "1", "-W", strconv.FormatInt(timeout.Milliseconds(), 10), host}
	default:
		secs := int(timeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		return []string{"-c", "1", "-W", strconv.Itoa(secs), host}
	}
}
