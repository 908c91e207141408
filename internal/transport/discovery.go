// internal/transport/discovery.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/gousb"
	"go.bug.st/serial/enumerator"
)

// DefaultSerialPatterns match port names that Bluetooth stacks give to
// paired bricks.
var DefaultSerialPatterns = []string{`(?i)rfcomm`, `(?i)nxt`, `(?i)bluetooth`}

// DiscoverSerial lists non-USB serial ports whose name, product or
// description matches one of patterns (DefaultSerialPatterns when empty).
func DiscoverSerial(patterns []string) ([]Endpoint, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("discover serial: %w", err)
	}
	return filterBluetoothPorts(ports, patterns)
}

func filterBluetoothPorts(ports []*enumerator.PortDetails, patterns []string) ([]Endpoint, error) {
	if len(patterns) == 0 {
		patterns = DefaultSerialPatterns
	}
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("discover serial: pattern %q: %w", p, err)
		}
		res = append(res, re)
	}

	var out []Endpoint
	for _, p := range ports {
		if p == nil || p.IsUSB {
			continue
		}
		for _, re := range res {
			if re.MatchString(p.Name) || re.MatchString(p.Product) {
				out = append(out, Endpoint{Kind: KindBluetooth, Address: p.Name, Name: p.Product})
				break
			}
		}
	}
	return out, nil
}

// DiscoverUSB lists attached devices with the given vendor and product ids.
func DiscoverUSB(vendor, product gousb.ID) ([]Endpoint, error) {
	uctx := gousb.NewContext()
	defer uctx.Close()

	devs, err := uctx.OpenDevices(func(d *gousb.DeviceDesc) bool {
		return d.Vendor == vendor && d.Product == product
	})
	defer func() {
		for _, d := range devs {
			_ = d.Close()
		}
	}()

	var out []Endpoint
	for _, d := range devs {
		addr := USBAddress{Vendor: vendor, Product: product, Serial: serialOf(d)}
		name, _ := d.Product()
		out = append(out, Endpoint{Kind: KindUSB, Address: addr.String(), Name: name})
	}
	if len(out) == 0 && err != nil {
		return nil, fmt.Errorf("discover usb: %w", err)
	}
	return out, nil
}

const (
	DiscoveryProbe       = "BRICK?"
	DefaultDiscoveryPort = 5000
)

// IPDiscoveryConfig controls the UDP broadcast probe.
type IPDiscoveryConfig struct {
	// Target defaults to the IPv4 broadcast address on DefaultDiscoveryPort.
	Target string
	Window time.Duration
}

// DiscoverIP broadcasts a probe and collects one endpoint per replying host
// until the window closes or ctx is done.
func DiscoverIP(ctx context.Context, cfg IPDiscoveryConfig) ([]Endpoint, error) {
	if cfg.Target == "" {
		cfg.Target = fmt.Sprintf("255.255.255.255:%d", DefaultDiscoveryPort)
	}
	if cfg.Window <= 0 {
		cfg.Window = 2 * time.Second
	}

	dst, err := net.ResolveUDPAddr("udp4", cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("discover ip: %w", err)
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("discover ip: %w", err)
	}
	defer conn.Close()

	if _, err := conn.WriteToUDP([]byte(DiscoveryProbe), dst); err != nil {
		return nil, fmt.Errorf("discover ip: probe: %w", err)
	}

	deadline := time.Now().Add(cfg.Window)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetReadDeadline(deadline)

	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	seen := map[string]Endpoint{}
	buf := make([]byte, 256)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				break
			}
			return nil, fmt.Errorf("discover ip: %w", err)
		}
		ip := from.IP.String()
		if _, dup := seen[ip]; dup {
			continue
		}
		seen[ip] = Endpoint{Kind: KindIP, Address: ip, Name: strings.TrimSpace(string(buf[:n]))}
	}

	out := make([]Endpoint, 0, len(seen))
	for _, ep := range seen {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}
