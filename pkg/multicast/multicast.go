// Package multicast contains multicast connections.
package multicast

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/net/ipv4"
)

const (
	// same size as GStreamer's rtspsrc
	multicastTTL = 16
)

// IsMulticast checks whether host is an IPv4 multicast address.
func IsMulticast(host string) bool {
	ip := net.ParseIP(host)
	return ip != nil && ip.To4() != nil && ip.IsMulticast()
}

// InterfaceByName returns the interface with the given name.
// An empty name returns nil, that lets the system pick the interface.
func InterfaceByName(name string) (*net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	return net.InterfaceByName(name)
}

// Conn is a UDP connection that is a member of a multicast group.
type Conn struct {
	*net.UDPConn

	group  *net.UDPAddr
	intf   *net.Interface
	connIP *ipv4.PacketConn
}

// Listen binds the port of address and joins the multicast group of address on intf.
func Listen(
	intf *net.Interface,
	address string,
	listenPacket func(network, address string) (net.PacketConn, error),
) (*Conn, error) {
	group, err := net.ResolveUDPAddr("udp4", address)
	if err != nil {
		return nil, err
	}

	if !group.IP.IsMulticast() {
		return nil, fmt.Errorf("'%s' is not a multicast address", group.IP)
	}

	tmp, err := listenPacket("udp4", ":"+strconv.FormatInt(int64(group.Port), 10))
	if err != nil {
		return nil, err
	}

	conn, ok := tmp.(*net.UDPConn)
	if !ok {
		tmp.Close() //nolint:errcheck
		return nil, fmt.Errorf("unsupported connection type %T", tmp)
	}

	connIP := ipv4.NewPacketConn(conn)

	err = connIP.JoinGroup(intf, &net.UDPAddr{IP: group.IP})
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, err
	}

	if intf != nil {
		err = connIP.SetMulticastInterface(intf)
		if err != nil {
			conn.Close() //nolint:errcheck
			return nil, err
		}
	}

	err = connIP.SetMulticastTTL(multicastTTL)
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, err
	}

	return &Conn{
		UDPConn: conn,
		group:   group,
		intf:    intf,
		connIP:  connIP,
	}, nil
}

// Group returns the multicast group.
func (c *Conn) Group() *net.UDPAddr {
	return c.group
}

// Close leaves the group and closes the connection.
func (c *Conn) Close() error {
	c.connIP.LeaveGroup(c.intf, &net.UDPAddr{IP: c.group.IP}) //nolint:errcheck
	return c.UDPConn.Close()
}
