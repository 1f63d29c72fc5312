package camera

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cupsadarius/sense-pulse-sub000/internal/types"
)

// RTSPPorts is the candidate port set scanned during discovery (spec §4.4.7).
var RTSPPorts = []int{554, 8554, 10554}

const (
	discoveryPortTimeout = 1500 * time.Millisecond
	discoveryMaxInFlight = 100
)

// LocalIPv4Network detects the host's local IPv4 network by asking
// net.InterfaceAddrs for the first non-loopback, non-link-local address —
// the Go equivalent of the original's psutil-based interface scan. The
// network is returned with that address's own mask; no /24 is assumed.
func LocalIPv4Network() (*net.IPNet, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("camera: list interface addrs: %w", err)
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
			continue
		}
		return ipNet, nil
	}
	return nil, fmt.Errorf("camera: no usable local ipv4 network found")
}

// hostsIn enumerates every usable host address in network (excluding
// network/broadcast addresses for networks larger than /31).
func hostsIn(network *net.IPNet) []string {
	var hosts []string
	ip := network.IP.Mask(network.Mask).To4()
	if ip == nil {
		return nil
	}
	ones, bits := network.Mask.Size()
	total := 1 << uint(bits-ones)
	if total <= 2 {
		return nil
	}
	base := ipToUint32(ip)
	for i := 1; i < total-1; i++ {
		hosts = append(hosts, uint32ToIP(base+uint32(i)).String())
	}
	return hosts
}

func ipToUint32(ip net.IP) uint32 {
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

func uint32ToIP(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// Discover scans the local network for RTSP-listening hosts, bounded by
// budget and at most discoveryMaxInFlight concurrent TCP connects (spec
// §4.4.7). Per-host-per-port timeout is 1.5s.
func Discover(ctx context.Context, budget time.Duration) ([]types.DiscoveredCamera, error) {
	network, err := LocalIPv4Network()
	if err != nil {
		return nil, err
	}
	hosts := hostsIn(network)

	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(discoveryMaxInFlight)

	found := make(chan types.DiscoveredCamera, len(hosts)*len(RTSPPorts))
	for _, host := range hosts {
		for _, port := range RTSPPorts {
			host, port := host, port
			g.Go(func() error {
				if scanPort(gctx, host, port) {
					found <- types.DiscoveredCamera{
						Name: fmt.Sprintf("Camera at %s:%d", host, port),
						Host: host,
						Port: port,
					}
				}
				return nil
			})
		}
	}

	// errgroup.Wait doesn't race the outer context here (per-task dialing
	// already respects gctx), and scan errors never bubble up — an
	// unreachable host is an empty result, not a discovery failure.
	_ = g.Wait()
	close(found)

	var cameras []types.DiscoveredCamera
	for c := range found {
		cameras = append(cameras, c)
	}
	return cameras, nil
}

func scanPort(ctx context.Context, host string, port int) bool {
	d := net.Dialer{Timeout: discoveryPortTimeout}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
