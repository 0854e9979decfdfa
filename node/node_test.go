package node_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gopherlang/ernode/node"
	"github.com/gopherlang/ernode/term"
)

func newTestNode(t *testing.T) *node.Node {
	t.Helper()
	n := node.New("test@127.0.0.1", "cookie", 1, zerolog.Nop())
	t.Cleanup(n.Shutdown)
	return n
}

func TestSendAndReceive(t *testing.T) {
	n := newTestNode(t)
	got := make(chan term.Term, 1)

	receiver := n.Spawn(func(c *node.Context) {
		env, ok := c.Receive(time.Second, func(term.Term) bool { return true })
		require.True(t, ok)
		got <- env.Msg
	})

	n.Send(term.Pid{}, receiver, term.Atom("hello"))

	select {
	case msg := <-got:
		require.Equal(t, term.Atom("hello"), msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSelectiveReceiveLeavesNonMatchingPending(t *testing.T) {
	n := newTestNode(t)
	results := make(chan []term.Term, 1)

	receiver := n.Spawn(func(c *node.Context) {
		var out []term.Term
		// first receive only matches "b"; "a" should remain pending and be
		// seen by the next receive, in original order relative to anything
		// else still pending.
		env, ok := c.Receive(time.Second, func(m term.Term) bool { return m == term.Atom("b") })
		require.True(t, ok)
		out = append(out, env.Msg)

		env, ok = c.Receive(time.Second, func(term.Term) bool { return true })
		require.True(t, ok)
		out = append(out, env.Msg)

		results <- out
	})

	n.Send(term.Pid{}, receiver, term.Atom("a"))
	n.Send(term.Pid{}, receiver, term.Atom("b"))

	select {
	case out := <-results:
		require.Equal(t, []term.Term{term.Atom("b"), term.Atom("a")}, out)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestRegisterAndWhereis(t *testing.T) {
	n := newTestNode(t)
	registered := make(chan struct{})
	pid := n.Spawn(func(c *node.Context) {
		c.Register("echo")
		close(registered)
		c.Receive(time.Second, func(term.Term) bool { return true })
	})
	<-registered

	got, ok := n.Whereis("echo")
	require.True(t, ok)
	require.Equal(t, pid, got)
}

func TestLinkedProcessTerminatesWhenPeerCrashes(t *testing.T) {
	n := newTestNode(t)
	victimGone := make(chan struct{})

	victim := n.Spawn(func(c *node.Context) {
		c.Receive(2*time.Second, func(term.Term) bool { return false }) // blocks until the link kills it
		close(victimGone)
	})

	linker := n.Spawn(func(c *node.Context) {
		c.Link(victim)
		panic("simulated crash") // process body panics; its goroutine recovers
	})
	_ = linker

	select {
	case <-victimGone:
	case <-time.After(2 * time.Second):
		t.Fatal("linked victim was never terminated after its peer crashed")
	}
}

func TestExitSignalTerminatesLinkedProcess(t *testing.T) {
	n := newTestNode(t)
	done := make(chan term.Term, 1)

	victim := n.Spawn(func(c *node.Context) {
		env, ok := c.Receive(2*time.Second, func(term.Term) bool { return true })
		if ok {
			done <- env.Msg
		} else {
			done <- term.Atom("timeout")
		}
	})

	killer := n.Spawn(func(c *node.Context) {
		c.Link(victim)
		time.Sleep(20 * time.Millisecond)
		c.Exit(victim, term.Atom("boom"), false)
	})
	_ = killer

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("victim never received exit-induced wakeup")
	}
}

func TestUnlinkStopsFurtherPropagation(t *testing.T) {
	n := newTestNode(t)
	killed := make(chan bool, 1)

	victim := n.Spawn(func(c *node.Context) {
		c.Receive(500*time.Millisecond, func(term.Term) bool { return false })
		killed <- c.Killed()
	})

	linker := n.Spawn(func(c *node.Context) {
		c.Link(victim)
		c.Unlink(victim)
		panic("simulated crash after unlink") // must not reach the victim
	})
	_ = linker

	select {
	case k := <-killed:
		require.False(t, k, "unlinked victim was killed by its former peer's crash")
	case <-time.After(2 * time.Second):
		t.Fatal("victim never finished its receive")
	}
}
