package node

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/gopherlang/ernode/config"
	"github.com/gopherlang/ernode/dist"
	"github.com/gopherlang/ernode/epmd"
)

// Listener is the live handle for a published node: the bound TCP socket
// and the EPMD registration connection, which must be kept open for as long
// as the node wants to be reachable by peers.
type Listener struct {
	tcp   net.Listener
	epmdC net.Conn
}

// Addr returns the bound listener address.
func (l *Listener) Addr() net.Addr { return l.tcp.Addr() }

// Close tears down both the TCP listener and the EPMD registration, making
// the node unreachable by new inbound connections (existing ones are
// unaffected).
func (l *Listener) Close() error {
	l.epmdC.Close()
	return l.tcp.Close()
}

// Listen publishes n on host:port (port 0 picks an ephemeral port),
// registers it with EPMD at epmdHost, and accepts inbound distribution
// connections, adopting each into n's connection table as it completes its
// handshake. Grounded on eclus's Node.Publish (net.Listen + epmdC + Accept
// loop), generalized to register the connection with the registrar instead
// of spawning a bespoke mLoop per peer.
func (n *Node) Listen(ctx context.Context, epmdHost string, port int) (*Listener, error) {
	addr := net.JoinHostPort("", strconv.Itoa(port))
	l, err := dist.Listen(addr, n.FullName, n.Cookie, n.Creation, (*nodeRouter)(n), n.Logger, func(conn *dist.Connection) {
		n.RegisterConnection(conn)
	})
	if err != nil {
		return nil, err
	}

	boundPort := l.Addr().(*net.TCPAddr).Port
	short, _, err := config.SplitNodeName(n.FullName)
	if err != nil {
		l.Close()
		return nil, err
	}

	creation, epmdConn, err := epmd.Register(ctx, epmdHost, epmd.NodeInfo{
		Name:     short,
		Port:     uint16(boundPort),
		Type:     epmd.NodeTypeNormal,
		Protocol: 0,
		HighVsn:  6,
		LowVsn:   6,
	})
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("node: epmd register: %w", err)
	}
	// Listen is expected to run once at startup before any dial/accept
	// traffic exists, so routing this assignment through the registrar
	// avoids a race with connect()'s reads of n.Creation without requiring
	// a dedicated lock for a field that otherwise never changes.
	n.call(func(*registrarState) { n.Creation = uint32(creation) })

	return &Listener{tcp: l, epmdC: epmdConn}, nil
}
