package rpc_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gopherlang/ernode/node"
	"github.com/gopherlang/ernode/rpc"
	"github.com/gopherlang/ernode/term"
)

func newTestNode(t *testing.T) *node.Node {
	t.Helper()
	n := node.New("test@127.0.0.1", "cookie", 1, zerolog.Nop())
	t.Cleanup(n.Shutdown)
	return n
}

func TestCallHairpinSuccess(t *testing.T) {
	n := newTestNode(t)
	registered := make(chan struct{})

	rex := n.Spawn(func(c *node.Context) {
		c.Register("rex")
		close(registered)
		env, ok := c.Receive(2*time.Second, func(term.Term) bool { return true })
		require.True(t, ok)
		req, ok := env.Msg.(term.Tuple)
		require.True(t, ok)
		require.Len(t, req, 2)

		from, ok := req[0].(term.Pid)
		require.True(t, ok)
		call, ok := req[1].(term.Tuple)
		require.True(t, ok)
		require.Equal(t, term.Atom("call"), call[0])
		require.Equal(t, term.Atom("erlang"), call[1])
		require.Equal(t, term.Atom("node"), call[2])

		c.Send(from, term.Tuple{term.Atom("rex"), term.Atom("pong")})
	})
	_ = rex
	<-registered

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := rpc.Call(ctx, n, n.FullName, "erlang", "node", nil)
	require.NoError(t, err)
	require.Equal(t, term.Atom("pong"), result)
}

func TestCallTimesOutWithoutReply(t *testing.T) {
	n := newTestNode(t)
	n.Spawn(func(c *node.Context) {
		c.Register("rex")
		c.Receive(2*time.Second, func(term.Term) bool { return true })
		// never replies
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := rpc.Call(ctx, n, n.FullName, "erlang", "node", nil)
	require.Error(t, err)
}
