// Package rpc implements the rex-based remote procedure call convention
// (spec.md §4.E): send a {call, M, F, A, user} tuple to the peer's
// registered "rex" process, and wait for its {rex, Result} reply.
//
// Grounded on ergonode's registrar.go (891091fe_halturin-node) wrapped_stop
// pattern of spawning a short-lived worker and tearing it down on timeout,
// translated into a worker process + timer + select, per
// spec.md §9's substitution note.
package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/gopherlang/ernode/node"
	"github.com/gopherlang/ernode/term"
)

// DefaultTimeout is used by Call when ctx carries no deadline.
const DefaultTimeout = 5 * time.Second

// Call performs module:function(args) on the node named peer, returning
// whatever its rex server replies with. peer may be a full "name@host"
// remote node name, or the local node's own FullName/alias for a
// same-node hairpin call.
func Call(ctx context.Context, n *node.Node, peer, module, function string, args term.List) (term.Term, error) {
	d := DefaultTimeout
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining > 0 {
			d = remaining
		} else {
			d = 0
		}
	}

	return Timeout(n, d, func(c *node.Context) (term.Term, error) {
		dest := term.Tuple{term.Atom("rex"), term.Atom(peer)}
		req := term.Tuple{
			c.Self(),
			term.Tuple{
				term.Atom("call"),
				term.Atom(module),
				term.Atom(function),
				args,
				term.Atom("user"),
			},
		}
		c.Send(dest, req)

		env, ok := c.Receive(d, func(msg term.Term) bool {
			tup, ok := msg.(term.Tuple)
			return ok && len(tup) == 2 && tup[0] == term.Atom("rex")
		})
		if !ok {
			return nil, fmt.Errorf("rpc: %s:%s timed out calling %s", module, function, peer)
		}
		tup := env.Msg.(term.Tuple)
		return tup[1], nil
	})
}

// Timeout implements spec.md §4.E's call(fun, timeout=5s): fn runs inside a
// freshly spawned worker process; if it returns before timeout elapses, its
// result is delivered to the caller. Otherwise the worker is sent a kill
// exit signal and abandoned — if fn's body later reaches a point where it
// would have sent its result, there is nothing left reading resultCh, so
// that late reply is simply dropped, matching "on timeout the worker is
// killed and any late reply is dropped from the mailbox." A plain Go
// channel stands in for the spec's private ref-tagged mailbox message,
// since each call already gets its own dedicated channel instead of
// sharing the caller's mailbox (design note 9's substitution allowance).
func Timeout(n *node.Node, timeout time.Duration, fn func(c *node.Context) (term.Term, error)) (term.Term, error) {
	type result struct {
		val term.Term
		err error
	}
	resultCh := make(chan result, 1)

	pid := n.Spawn(func(c *node.Context) {
		val, err := fn(c)
		resultCh <- result{val: val, err: err}
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-resultCh:
		return r.val, r.err
	case <-timer.C:
		n.Exit(pid, term.Atom("kill"))
		return nil, fmt.Errorf("rpc: call timed out after %s", timeout)
	}
}
