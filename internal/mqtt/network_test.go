package mqtt

import (
	"context"
	"errors"
	"testing"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providerWith(name string, ifaces psnet.InterfaceStatList, err error) *InterfaceProvider {
	return &InterfaceProvider{
		Name: name,
		list: func(context.Context) (psnet.InterfaceStatList, error) { return ifaces, err },
	}
}

func iface(name string, flags []string, addrs ...string) psnet.InterfaceStat {
	st := psnet.InterfaceStat{Name: name, Flags: flags}
	for _, a := range addrs {
		st.Addrs = append(st.Addrs, psnet.InterfaceAddr{Addr: a})
	}
	return st
}

func TestInterfaceProviderFindsRoutableInterface(t *testing.T) {
	p := providerWith("", psnet.InterfaceStatList{
		iface("lo", []string{"up", "loopback"}, "127.0.0.1/8", "::1/128"),
		iface("eth0", []string{"broadcast", "multicast"}, "10.0.0.2/24"),
		iface("wlan0", []string{"up", "broadcast", "multicast"}, "fe80::1/64", "192.168.1.50/24"),
	}, nil)

	link, err := p.Link(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Link{Interface: "wlan0", Addr: "192.168.1.50"}, link)
}

func TestInterfaceProviderRestrictsByName(t *testing.T) {
	ifaces := psnet.InterfaceStatList{
		iface("eth0", []string{"up"}, "10.0.0.2/24"),
		iface("wlan0", []string{"up"}, "fe80::1/64"),
	}

	_, err := providerWith("wlan0", ifaces, nil).Link(context.Background())
	assert.ErrorIs(t, err, ErrNoLink, "only link-local on wlan0")

	link, err := providerWith("eth0", ifaces, nil).Link(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "eth0", link.Interface)
}

func TestInterfaceProviderListError(t *testing.T) {
	cause := errors.New("netlink")
	_, err := providerWith("", nil, cause).Link(context.Background())
	assert.ErrorIs(t, err, cause)
}

func TestRoutable(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"192.168.1.50/24", "192.168.1.50", true},
		{"10.1.2.3", "10.1.2.3", true},
		{"2001:db8::5/64", "2001:db8::5", true},
		{"127.0.0.1/8", "", false},
		{"169.254.10.1/16", "", false},
		{"fe80::1/64", "", false},
		{"0.0.0.0", "", false},
		{"garbage", "", false},
		{"1.2.3.4/99", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := routable(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFakeNetwork(t *testing.T) {
	f := &FakeNetwork{UpAfter: 1, Result: Link{Interface: "wlan0"}}

	_, err := f.Link(context.Background())
	assert.ErrorIs(t, err, ErrNoLink)

	link, err := f.Link(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wlan0", link.Interface)
	assert.Equal(t, 2, f.Checks)
}
