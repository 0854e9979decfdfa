// Package node implements the local Erlang-style lightweight process
// runtime: PIDs, mailboxes with selective receive, links, exit signal
// propagation, a name registry, and references, plus the wiring needed to
// route messages to and from remote distribution connections.
//
// Generalized from eclus's Node/Spawn/Register/Send and ergonode's
// registrar.go (891091fe_halturin-node), whose single "registrar" actor
// goroutine owns the process table and does all routing; this keeps that
// shape but adds links, exit propagation, selective receive, and references,
// none of which the source registrar implements (its WhereIs is a stub and
// it has no link handling at all).
package node

import (
	"math/rand"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gopherlang/ernode/term"
)

// Envelope is one mailbox entry: a message plus the sender, if known (a
// REG_SEND/SEND_SENDER control message always carries a From pid; locally
// spawned sends may not).
type Envelope struct {
	From term.Term
	Msg  term.Term
}

// Connector abstracts the part of package dist a Node needs, so node can be
// tested without a real socket. *dist.Connection satisfies it.
type Connector interface {
	Send(ctl term.Term, payload term.Term) error
	Close() error
	PeerName() string
}

// Node is a local Erlang-style node: a process table, a name registry, and
// a set of live peer connections, all owned by a single registrar
// goroutine so that mutations are serialized without explicit locking
// (spec.md §5).
type Node struct {
	Logger zerolog.Logger

	FullName string
	Cookie   string
	Creation uint32

	reqCh chan request

	mu          sync.Mutex // guards nextPID/nextRefBase only; registrar owns the rest
	nextPID     uint32
	nextRefBase uint64

	// closed when the registrar loop exits (node shut down).
	done chan struct{}
}

type request struct {
	fn func(*registrarState)
}

// New creates a Node and starts its registrar goroutine.
func New(fullName, cookie string, creation uint32, logger zerolog.Logger) *Node {
	n := &Node{
		Logger:   logger,
		FullName: fullName,
		Cookie:   cookie,
		Creation: creation,
		reqCh:    make(chan request, 64),
		done:     make(chan struct{}),
	}
	go n.run()
	return n
}

// Identity returns this node's own (name, creation), used as the encoder
// identity for internally-spawned (connection-less) PIDs and References
// (spec.md §3: "For processes that are internal to this client node,
// node=⊥, creation=⊥" on the wire once elided against the node's own
// identity by the peer — but when *we* encode, we fill in our real name).
func (n *Node) Identity() *term.Identity {
	return &term.Identity{Name: term.Atom(n.FullName), Creation: n.Creation}
}

// allocatePID hands out a fresh locally-elided PID (Node == "" meaning ⊥,
// per term.Pid.IsLocal).
func (n *Node) allocatePID() term.Pid {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextPID++
	return term.Pid{ID: n.nextPID, Serial: 1}
}

// MakeRef allocates a fresh, locally-elided reference with three 32-bit id
// halves: the low and high words of a monotonic counter plus one random
// word, wide enough that it will not realistically repeat within a node's lifetime
// (spec.md §3: "refs wrap safely after 2^160 — effectively never in
// practice").
func (n *Node) MakeRef() term.Reference {
	n.mu.Lock()
	n.nextRefBase++
	base := n.nextRefBase
	n.mu.Unlock()
	return term.Reference{
		ID: []uint32{uint32(base), uint32(base >> 32), rand.Uint32()},
	}
}

// call issues a request to the registrar and blocks until it runs.
func (n *Node) call(fn func(*registrarState)) {
	done := make(chan struct{})
	n.reqCh <- request{fn: func(s *registrarState) {
		fn(s)
		close(done)
	}}
	<-done
}

// Shutdown stops the registrar, terminating every process with reason
// "killed" (spec.md §4.C.3's "Fatal: exit(main, kill) terminates the host").
func (n *Node) Shutdown() {
	n.call(func(s *registrarState) {
		for pid := range s.processes {
			s.terminate(pid, term.Atom("killed"))
		}
		for name, conn := range s.conns {
			conn.Close()
			delete(s.conns, name)
		}
	})
	close(n.reqCh)
	close(n.done)
}

// Done returns a channel closed once Shutdown completes.
func (n *Node) Done() <-chan struct{} { return n.done }

func (n *Node) run() {
	state := newRegistrarState(n)
	for req := range n.reqCh {
		req.fn(state)
	}
}

