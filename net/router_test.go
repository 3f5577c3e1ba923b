package net

import (
	"context"
	"fmt"
	"testing"
	"time"

	clock "github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/drand/bracha/log"
	"github.com/drand/bracha/test"
)

func makeRouters(t *testing.T, n int) ([]*Router, []string) {
	t.Helper()
	addrs, err := test.Addresses(n)
	require.NoError(t, err)
	group, _, _, err := test.BatchIdentities(addrs, 0)
	require.NoError(t, err)

	routers := make([]*Router, n)
	for i, addr := range addrs {
		r, err := NewRouter(log.DefaultLogger(), clock.NewRealClock(), group, addr)
		require.NoError(t, err)
		require.NoError(t, r.Listen())
		routers[i] = r
	}
	t.Cleanup(func() {
		for _, r := range routers {
			r.Stop()
		}
	})
	return routers, addrs
}

func TestRouterSendReceive(t *testing.T) {
	routers, addrs := makeRouters(t, 2)
	ctx := context.Background()

	require.NoError(t, routers[0].Send(ctx, addrs[1], []byte("ping")))

	select {
	case in := <-routers[1].Incoming():
		require.Equal(t, addrs[0], in.Src)
		require.Equal(t, []byte("ping"), in.Data)
	case <-time.After(5 * time.Second):
		t.Fatal("payload never arrived")
	}

	// the answer reuses the established connection
	require.NoError(t, routers[1].Send(ctx, addrs[0], []byte("pong")))
	select {
	case in := <-routers[0].Incoming():
		require.Equal(t, addrs[1], in.Src)
		require.Equal(t, []byte("pong"), in.Data)
	case <-time.After(5 * time.Second):
		t.Fatal("answer never arrived")
	}
}

func TestRouterFIFOPerSource(t *testing.T) {
	routers, addrs := makeRouters(t, 2)
	ctx := context.Background()

	const count = 20
	for i := 0; i < count; i++ {
		require.NoError(t, routers[0].Send(ctx, addrs[1], []byte(fmt.Sprintf("msg-%03d", i))))
	}
	for i := 0; i < count; i++ {
		select {
		case in := <-routers[1].Incoming():
			require.Equal(t, fmt.Sprintf("msg-%03d", i), string(in.Data))
		case <-time.After(5 * time.Second):
			t.Fatalf("payload %d never arrived", i)
		}
	}
}

func TestRouterFanOut(t *testing.T) {
	routers, addrs := makeRouters(t, 3)
	ctx := context.Background()

	for _, dst := range addrs[1:] {
		require.NoError(t, routers[0].Send(ctx, dst, []byte("hello")))
	}
	for _, r := range routers[1:] {
		select {
		case in := <-r.Incoming():
			require.Equal(t, addrs[0], in.Src)
			require.Equal(t, []byte("hello"), in.Data)
		case <-time.After(5 * time.Second):
			t.Fatal("broadcast payload never arrived")
		}
	}
}

func TestRouterRejectsUnknown(t *testing.T) {
	routers, addrs := makeRouters(t, 2)
	ctx := context.Background()

	require.Error(t, routers[0].Send(ctx, "127.0.0.1:1", []byte("x")))
	require.Error(t, routers[0].Send(ctx, addrs[0], []byte("self")))
}

func TestRouterStopUnblocks(t *testing.T) {
	routers, addrs := makeRouters(t, 2)
	require.NoError(t, routers[0].Send(context.Background(), addrs[1], []byte("x")))
	routers[0].Stop()
	routers[1].Stop()
	// a send after stop returns instead of hanging
	err := routers[0].Send(context.Background(), addrs[1], []byte("y"))
	_ = err // the connection may be torn down on either side first
}
