package endpoint

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_IPLiteral(t *testing.T) {
	r := &Resolver{}
	for _, host := range []string{"127.0.0.1", "::1"} {
		ip, err := r.Lookup(context.Background(), host)
		require.NoError(t, err)
		assert.Equal(t, host, ip)
	}
}

func TestResolver_Localhost(t *testing.T) {
	ip, err := (&Resolver{}).Lookup(context.Background(), "localhost")
	require.NoError(t, err)
	assert.True(t, net.ParseIP(ip).IsLoopback(), "got %s", ip)
}

func TestResolver_NoFallback(t *testing.T) {
	_, err := (&Resolver{}).Lookup(context.Background(), "deskrelay.invalid")
	assert.ErrorContains(t, err, "resolve deskrelay.invalid")
}

func TestResolver_FallbackFailure(t *testing.T) {
	// Nothing listens on these, so every racer fails or times out.
	r := &Resolver{Fallback: []string{"127.0.0.1", "127.0.0.2"}}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.Lookup(ctx, "deskrelay.invalid")
	assert.Error(t, err)
}

func TestResolver_DialContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		if c, err := ln.Accept(); err == nil {
			c.Close()
		}
	}()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	conn, err := (&Resolver{}).DialContext(context.Background(), "tcp", net.JoinHostPort("localhost", port))
	if err != nil {
		// localhost may resolve to ::1 first on some hosts
		conn, err = (&Resolver{}).DialContext(context.Background(), "tcp", ln.Addr().String())
	}
	require.NoError(t, err)
	conn.Close()

	_, err = (&Resolver{}).DialContext(context.Background(), "tcp", "no-port")
	assert.Error(t, err)
}
