package mdns

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/ipv4"

	"github.com/lanpeer/beacon/internal/errors"
	"github.com/lanpeer/beacon/internal/protocol"
	"github.com/lanpeer/beacon/internal/transport"
)

// openMulticastSocket binds a UDP socket to 0.0.0.0:5353 with address/port
// reuse and joins the mDNS multicast group 224.0.0.251 on the unspecified
// interface
//
// Grounded on internal/network/socket.go's earlier join technique (same
// net.ListenConfig + golang.org/x/net/ipv4 approach), generalized to a
// single join on the unspecified interface, simpler than a
// join-on-every-interface loop.
func openMulticastSocket() (*ipv4.PacketConn, error) {
	lc := net.ListenConfig{
		Control: transport.PlatformControl,
	}

	conn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("0.0.0.0:%d", protocol.Port))
	if err != nil {
		return nil, &errors.NetworkError{
			Operation: "create multicast socket",
			Err:       err,
			Details:   fmt.Sprintf("failed to bind 0.0.0.0:%d", protocol.Port),
		}
	}

	p := ipv4.NewPacketConn(conn)

	group := net.IPv4(224, 0, 0, 251)
	if err := p.JoinGroup(nil, &net.UDPAddr{IP: group}); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{
			Operation: "join multicast group",
			Err:       err,
			Details:   "failed to join 224.0.0.251 on the unspecified interface",
		}
	}

	if err := p.SetMulticastTTL(255); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "set multicast TTL", Err: err}
	}

	if err := p.SetMulticastLoopback(true); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "set multicast loopback", Err: err}
	}

	return p, nil
}

// closeSocket closes conn, propagating any error instead of swallowing it
// (an earlier CloseSocket here deliberately returned nil on close failure;
// fixed to propagate the same way internal/transport/udp.go's Close() did).
func closeSocket(conn *ipv4.PacketConn) error {
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return &errors.NetworkError{Operation: "close socket", Err: err}
	}
	return nil
}
