package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// ErrNoLink is returned by a NetworkProvider while the network is down.
var ErrNoLink = errors.New("no network link")

// Link describes the interface the daemon reaches the broker through.
type Link struct {
	Interface string
	Addr      string
}

// NetworkProvider reports network association. Association itself is done by
// the OS (wpa_supplicant, NetworkManager); the daemon only waits for it.
type NetworkProvider interface {
	// Link returns the associated link, or ErrNoLink.
	Link(ctx context.Context) (Link, error)
}

// InterfaceProvider considers the network associated when an interface is
// up, not loopback and has a routable address.
type InterfaceProvider struct {
	// Name restricts the check to one interface (e.g. "wlan0").
	// Empty accepts any interface.
	Name string

	list func(ctx context.Context) (psnet.InterfaceStatList, error)
}

// NewInterfaceProvider creates a provider backed by the host interface list.
func NewInterfaceProvider(name string) *InterfaceProvider {
	return &InterfaceProvider{Name: name, list: psnet.InterfacesWithContext}
}

// Link returns the first associated interface.
func (p *InterfaceProvider) Link(ctx context.Context) (Link, error) {
	ifaces, err := p.list(ctx)
	if err != nil {
		return Link{}, fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if p.Name != "" && iface.Name != p.Name {
			continue
		}
		if !slices.Contains(iface.Flags, "up") || slices.Contains(iface.Flags, "loopback") {
			continue
		}
		for _, a := range iface.Addrs {
			if addr, ok := routable(a.Addr); ok {
				return Link{Interface: iface.Name, Addr: addr}, nil
			}
		}
	}
	return Link{}, ErrNoLink
}

// routable parses an interface address ("192.168.1.5/24") and reports whether
// it can reach a broker beyond the link.
func routable(s string) (string, bool) {
	var addr netip.Addr
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return "", false
		}
		addr = p.Addr()
	} else {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return "", false
		}
		addr = a
	}
	if !addr.IsValid() || addr.IsLoopback() || addr.IsUnspecified() || addr.IsLinkLocalUnicast() {
		return "", false
	}
	return addr.String(), true
}

// FakeNetwork is a NetworkProvider that comes up after a number of checks.
type FakeNetwork struct {
	// UpAfter is the number of Link calls that report ErrNoLink first.
	// Negative means never.
	UpAfter int
	// Result is returned once the network is up.
	Result Link
	// Checks counts Link calls.
	Checks int
}

// Link reports the scripted state.
func (f *FakeNetwork) Link(context.Context) (Link, error) {
	f.Checks++
	if f.UpAfter < 0 || f.Checks <= f.UpAfter {
		return Link{}, ErrNoLink
	}
	return f.Result, nil
}
