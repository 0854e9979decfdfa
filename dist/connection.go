// Package dist implements the Erlang distribution protocol's connection
// layer: the name/challenge/digest handshake, framed pass-through
// messaging, and control-message dispatch into a process runtime.
package dist

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gopherlang/ernode/term"
)

// Router is implemented by the process runtime (package node) to receive
// dispatched control+payload messages and to be notified when the
// connection dies. Keeping this as an interface (rather than an import of
// package node) avoids a dependency cycle, per design note 9's "inject via
// an explicit parameter, not a global" guidance.
type Router interface {
	// Deliver handles one decoded control message, with its optional
	// payload, arriving on conn.
	Deliver(conn *Connection, ctl Control)
	// Closed is called once, after the connection's read loop ends for any
	// reason (peer close, transport error, local Close).
	Closed(conn *Connection, err error)
}

// Conn is the abstract framed byte-stream endpoint the connection layer
// operates over (spec.md §1: transport TCP socket plumbing is an external
// collaborator). Any io.ReadWriteCloser satisfies it; Dial/Listen below
// wrap a real net.Conn for production use.
type Conn interface {
	io.ReadWriteCloser
}

// Connection is one live (or handshaking) distribution link to a peer node.
type Connection struct {
	Logger zerolog.Logger

	conn Conn

	selfName string
	cookie   string
	creation uint32

	mu        sync.Mutex
	phase     Phase
	peerName  string
	peerCreat uint32
	closed    bool
	closeErr  error

	writeMu sync.Mutex

	router Router
}

// LocalIdentity returns this side's own (name, creation), the identity a
// ⊥ node/creation on an outbound term is rewritten to before it goes on the
// wire (spec.md §4.A: "a term with node=⊥ is rewritten to that connection's
// local-name/local-creation before emission").
func (c *Connection) LocalIdentity() *term.Identity {
	return &term.Identity{Name: term.Atom(c.selfName), Creation: c.creation}
}

// PeerIdentity returns the peer's (name, creation), valid once the
// handshake completes, used to elide the peer's own identity back to ⊥
// when decoding terms it sent us (spec.md §4.A).
func (c *Connection) PeerIdentity() *term.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &term.Identity{Name: term.Atom(c.peerName), Creation: c.peerCreat}
}

// PeerName returns the peer's node name, valid once the handshake
// completes.
func (c *Connection) PeerName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerName
}

// CurrentPhase returns the current handshake/connection phase.
func (c *Connection) CurrentPhase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Dial opens a TCP connection to host:port and performs the dialer side of
// the handshake, grounded on eclus's net.Dial usage in epmdC and ergo's
// registerNode pattern.
func Dial(ctx context.Context, host string, port uint16, selfName, cookie string, creation uint32, router Router, logger zerolog.Logger) (*Connection, error) {
	d := net.Dialer{}
	nc, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s:%d: %v", ErrTransport, host, port, err)
	}
	return newConnection(nc, selfName, cookie, creation, router, logger, true)
}

// Accept performs the acceptor side of the handshake over an already-open
// Conn (as produced by a net.Listener, grounded on eclus's
// Node.Publish/mLoop accept loop).
func Accept(nc Conn, selfName, cookie string, creation uint32, router Router, logger zerolog.Logger) (*Connection, error) {
	return newConnection(nc, selfName, cookie, creation, router, logger, false)
}

// Listen opens a TCP listener and accepts incoming distribution connections
// in a background goroutine, handing each fully-handshaken Connection to
// accepted (or logging and dropping it on handshake failure). It returns
// once the listener is bound, so the caller can register the chosen port
// with EPMD. Grounded on eclus's Node.Publish: a net.Listen plus an Accept
// loop that spawns one mLoop-equivalent goroutine per peer, generalized so
// the handshake itself (not just framing) runs in that per-peer goroutine.
func Listen(addr string, selfName, cookie string, creation uint32, router Router, logger zerolog.Logger, accepted func(*Connection)) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: listen %s: %v", ErrTransport, addr, err)
	}

	go func() {
		for {
			nc, err := l.Accept()
			if err != nil {
				logger.Info().Err(err).Msg("dist: listener closed")
				return
			}
			go func() {
				conn, err := Accept(nc, selfName, cookie, creation, router, logger)
				if err != nil {
					logger.Warn().Err(err).Msg("dist: inbound handshake failed")
					return
				}
				accepted(conn)
			}()
		}
	}()

	return l, nil
}

func newConnection(nc Conn, selfName, cookie string, creation uint32, router Router, logger zerolog.Logger, dialer bool) (*Connection, error) {
	c := &Connection{
		Logger:   logger,
		conn:     nc,
		selfName: selfName,
		cookie:   cookie,
		creation: creation,
		router:   router,
		phase:    PhaseStart,
	}

	var peerName string
	var peerCreation uint32
	var err error
	if dialer {
		c.mu.Lock()
		c.phase = PhaseAwaitStatus
		c.mu.Unlock()
		peerName, peerCreation, err = clientHandshake(nc, selfName, cookie, creation)
	} else {
		c.mu.Lock()
		c.phase = PhaseAwaitName
		c.mu.Unlock()
		peerName, peerCreation, err = serverHandshake(nc, selfName, cookie, creation)
	}
	if err != nil {
		nc.Close()
		return nil, err
	}

	c.mu.Lock()
	c.peerName = peerName
	c.peerCreat = peerCreation
	c.phase = PhaseConnected
	c.mu.Unlock()

	c.Logger.Info().Str("peer", peerName).Msg("dist: handshake complete")

	go c.readLoop()
	return c, nil
}

// Send writes a control+optional-payload frame (spec.md §4.D framing:
// 0x70 pass-through byte, then one or two version-prefixed terms).
func (c *Connection) Send(ctl term.Term, payload term.Term) error {
	identity := c.LocalIdentity()

	var buf []byte
	buf = append(buf, 0x70)

	ctlBytes, err := term.EncodeToBytes(ctl, identity)
	if err != nil {
		return fmt.Errorf("dist: encode control: %w", err)
	}
	buf = append(buf, ctlBytes...)

	if payload != nil {
		payloadBytes, err := term.EncodeToBytes(payload, identity)
		if err != nil {
			return fmt.Errorf("dist: encode payload: %w", err)
		}
		buf = append(buf, payloadBytes...)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame32(c.conn, buf)
}

// Heartbeat sends a zero-length frame.
func (c *Connection) Heartbeat() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame32(c.conn, nil)
}

// Close tears down the connection; Router.Closed is invoked exactly once
// from the read loop.
func (c *Connection) Close() error {
	return c.conn.Close()
}

func (c *Connection) readLoop() {
	var loopErr error
	for {
		frame, err := readFrame32(c.conn)
		if err != nil {
			loopErr = err
			break
		}
		if frame == nil {
			// heartbeat: echo it back (spec.md §4.D).
			if err := c.Heartbeat(); err != nil {
				loopErr = err
				break
			}
			continue
		}
		if err := c.handleFrame(frame); err != nil {
			c.Logger.Warn().Err(err).Msg("dist: dropping malformed frame")
		}
	}

	c.mu.Lock()
	c.closed = true
	c.closeErr = loopErr
	c.mu.Unlock()

	if c.router != nil {
		c.router.Closed(c, loopErr)
	}
}

func (c *Connection) handleFrame(frame []byte) error {
	if len(frame) == 0 || frame[0] != 0x70 {
		return fmt.Errorf("dist: frame missing pass-through byte")
	}
	body := frame[1:]

	identity := c.PeerIdentity()
	r := newBytesReader(body)

	ctlTerm, n, err := decodeOne(r, identity)
	if err != nil {
		return fmt.Errorf("dist: decode control: %w", err)
	}

	var payload term.Term
	if n < len(body) {
		payload, _, err = decodeOne(newBytesReader(body[n:]), identity)
		if err != nil {
			return fmt.Errorf("dist: decode payload: %w", err)
		}
	}

	ctl := parseControl(ctlTerm, payload)
	if ctl.Tag < 0 {
		c.Logger.Warn().Msg("dist: unknown control message shape, dropping")
		return nil
	}
	if c.router != nil {
		c.router.Deliver(c, ctl)
	}
	return nil
}
