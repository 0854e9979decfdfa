package node

import (
	"time"

	"github.com/gopherlang/ernode/term"
)

// linkEntry mirrors spec.md §3's Link record: owned by both peers, with an
// outstanding unlink-id marking "we asked to unlink but haven't seen the
// ack yet" (spec.md §4.C.3).
type linkEntry struct {
	peer              term.Pid
	remote            bool
	outstandingUnlink *uint64
}

// Process is one lightweight Erlang-style process: a PID, a mailbox owned
// solely by its goroutine, and a link set owned by the registrar.
type Process struct {
	pid  term.Pid
	node *Node
	name string

	mailbox chan Envelope
	pending []Envelope // messages pulled off mailbox but not yet matched by the current/a past Receive

	links map[term.Pid]*linkEntry

	done    chan struct{} // closed by the process's own goroutine once body() returns
	killSig chan struct{} // closed by the registrar when an exit signal kills this process
	killed  bool
}

// Context is handed to a spawned process's body function. All operations
// round-trip through the registrar goroutine, which serializes them with
// every other process's operations — the source of the "no locks needed"
// property in spec.md §5.
type Context struct {
	node *Node
	proc *Process
}

func (c *Context) Self() term.Pid { return c.proc.pid }

func (c *Context) MakeRef() term.Reference { return c.node.MakeRef() }

// Send delivers msg to dest, which may be a Pid, a registered-name Atom, or
// a {name, node} Tuple (spec.md §4.D "Outbound routing").
func (c *Context) Send(dest term.Term, msg term.Term) {
	c.node.call(func(s *registrarState) {
		s.send(c.proc.pid, dest, msg)
	})
}

// Receive blocks until a message in the mailbox satisfies match, or timeout
// elapses (timeout<=0 means wait forever). It implements selective receive
// (spec.md §4.C.2): already-seen non-matching messages are never
// re-examined within one Receive call, but they remain visible to the next
// one, in original relative order.
func (c *Context) Receive(timeout time.Duration, match func(term.Term) bool) (Envelope, bool) {
	for i, env := range c.proc.pending {
		if match(env.Msg) {
			c.proc.pending = append(c.proc.pending[:i:i], c.proc.pending[i+1:]...)
			return env, true
		}
	}

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	for {
		select {
		case env, ok := <-c.proc.mailbox:
			if !ok {
				return Envelope{}, false
			}
			if match(env.Msg) {
				return env, true
			}
			c.proc.pending = append(c.proc.pending, env)
		case <-timeoutCh:
			return Envelope{}, false
		case <-c.proc.killSig:
			return Envelope{}, false
		case <-c.proc.done:
			return Envelope{}, false
		}
	}
}

// Killed reports whether an exit signal has terminated this process in the
// registrar's process table, so a body that returns from Receive with ok=false
// can distinguish "I was killed" from "I timed out" and unwind accordingly.
func (c *Context) Killed() bool {
	select {
	case <-c.proc.killSig:
		return true
	default:
		return false
	}
}

// Yield is advisory only: it returns immediately without handing off to
// the Go scheduler, which already preempts goroutine-based processes
// (spec.md §9 explicitly allows substituting OS threads for the cooperative
// scheduler).
func (c *Context) Yield() {
	select {
	case <-c.proc.done:
	default:
	}
}

func (c *Context) Link(pid term.Pid) {
	c.node.call(func(s *registrarState) {
		s.link(c.proc.pid, pid)
	})
}

func (c *Context) Unlink(pid term.Pid) {
	c.node.call(func(s *registrarState) {
		s.unlink(c.proc.pid, pid)
	})
}

// Exit sends an exit signal to pid (spec.md §4.C.3). link reports whether
// this is a link-originated signal (EXIT, tag 3) vs a direct exit/2
// (EXIT2, tag 8).
func (c *Context) Exit(pid term.Pid, reason term.Term, link bool) {
	c.node.call(func(s *registrarState) {
		s.exit(pid, reason, link, c.proc.pid)
	})
}

func (c *Context) Register(name string) {
	c.node.call(func(s *registrarState) {
		s.registerName(name, c.proc.pid)
	})
}

func (c *Context) Whereis(name string) (term.Pid, bool) {
	var pid term.Pid
	var ok bool
	c.node.call(func(s *registrarState) {
		pid, ok = s.names[name]
	})
	return pid, ok
}
