package discovery

import (
	"errors"
	"fmt"
	"net"
)

// ErrNoIPv4 is returned when no usable IPv4 interface address exists.
var ErrNoIPv4 = errors.New("discovery: no IPv4 interface address")

var mask24 = net.CIDRMask(24, 32)

// SubnetFunc returns the network to probe.
type SubnetFunc func() (*net.IPNet, error)

// LocalSubnet returns the /24 around the first up, non-loopback IPv4
// address. When iface is set only that interface is considered.
func LocalSubnet(iface string) SubnetFunc {
	return func() (*net.IPNet, error) {
		ifaces, err := net.Interfaces()
		if err != nil {
			return nil, fmt.Errorf("list interfaces: %w", err)
		}
		for _, ifc := range ifaces {
			if iface != "" && ifc.Name != iface {
				continue
			}
			if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
				continue
			}
			addrs, err := ifc.Addrs()
			if err != nil {
				continue
			}
			for _, a := range addrs {
				ipNet, ok := a.(*net.IPNet)
				if !ok {
					continue
				}
				ip4 := ipNet.IP.To4()
				if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
					continue
				}
				return &net.IPNet{IP: ip4.Mask(mask24), Mask: mask24}, nil
			}
		}
		if iface != "" {
			return nil, fmt.Errorf("%w on %s", ErrNoIPv4, iface)
		}
		return nil, ErrNoIPv4
	}
}

// subnetHosts returns .1 through .254 of the /24 containing subnet.IP.
func subnetHosts(subnet *net.IPNet) []string {
	base := subnet.IP.To4()
	if base == nil {
		return nil
	}
	base = base.Mask(mask24)

	hosts := make([]string, 0, 254)
	for i := 1; i <= 254; i++ {
		ip := net.IPv4(base[0], base[1], base[2], byte(i))
		hosts = append(hosts, ip.String())
	}
	return hosts
}
