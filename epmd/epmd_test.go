package epmd

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLookupPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 1024)
		n, err := conn.Read(buf)
		require.NoError(t, err)
		require.Equal(t, byte(reqPortPlease2), buf[2])
		require.Equal(t, "foo", string(buf[3:n]))

		resp := make([]byte, 4)
		resp[0] = respPort2
		resp[1] = 0
		binary.BigEndian.PutUint16(resp[2:4], 12345)
		conn.Write(resp)
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	_ = portStr

	origDial := dialHook
	defer func() { dialHook = origDial }()
	dialHook = func(ctx context.Context, _ string) (net.Conn, error) {
		d := net.Dialer{}
		return d.DialContext(ctx, "tcp", ln.Addr().String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	port, err := LookupPort(ctx, host, "foo")
	require.NoError(t, err)
	require.Equal(t, uint16(12345), port)
}

func TestLookupPortNotFound(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		conn.Read(buf)
		conn.Write([]byte{respPort2, 1})
	}()

	host, _, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	origDial := dialHook
	defer func() { dialHook = origDial }()
	dialHook = func(ctx context.Context, _ string) (net.Conn, error) {
		d := net.Dialer{}
		return d.DialContext(ctx, "tcp", ln.Addr().String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = LookupPort(ctx, host, "bar")
	require.Error(t, err)
}
