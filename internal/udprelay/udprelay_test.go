package udprelay

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relaymesh/internal/endpoint"
	"github.com/relaymesh/relaymesh/internal/metrics"
)

func startUDPEchoServer(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 2048)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			conn.WriteToUDP(buf[:n], addr)
		}
	}()
	return conn.LocalAddr().String()
}

func TestUDPRelayEndToEnd(t *testing.T) {
	echoAddr := startUDPEchoServer(t)
	remote, err := endpoint.ParseRemoteAddr(echoAddr)
	require.NoError(t, err)

	info := &endpoint.Info{
		Endpoint: &endpoint.Endpoint{
			LocalAddr: "127.0.0.1:0",
			RemoteAddr: remote,
			ConnOpts:  endpoint.ConnectOpts{AssociateTimeoutSeconds: 5},
		},
		UseUDP: true,
	}

	e := &Engine{Info: info, Metrics: metrics.NewRegistry()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, e.Listen(ctx))
	defer e.Close()

	listenAddr := e.conn.LocalAddr().String()
	go e.Serve(ctx)

	client, err := net.Dial("udp", listenAddr)
	require.NoError(t, err)
	defer client.Close()

	msg := []byte("hello udp relay")
	_, err = client.Write(msg)
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, len(msg))
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, msg, buf[:n])
}

// TestUDPIdleAssociationEviction proves an association with no further
// traffic is torn down after AssociateTimeoutSeconds: the outbound
// socket closes, sendBack exits, and both the sockmap entry and the
// metrics entry for the client address are removed.
func TestUDPIdleAssociationEviction(t *testing.T) {
	echoAddr := startUDPEchoServer(t)
	remote, err := endpoint.ParseRemoteAddr(echoAddr)
	require.NoError(t, err)

	info := &endpoint.Info{
		Endpoint: &endpoint.Endpoint{
			LocalAddr:  "127.0.0.1:0",
			RemoteAddr: remote,
			ConnOpts:   endpoint.ConnectOpts{AssociateTimeoutSeconds: 1},
		},
		UseUDP: true,
	}

	e := &Engine{Info: info, Metrics: metrics.NewRegistry()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, e.Listen(ctx))
	defer e.Close()

	listenAddr := e.conn.LocalAddr().String()
	go e.Serve(ctx)

	client, err := net.Dial("udp", listenAddr)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("hi"))
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2)
	_, err = client.Read(buf)
	require.NoError(t, err)

	laddr, ok := netip.AddrFromSlice(client.LocalAddr().(*net.UDPAddr).IP)
	require.True(t, ok)
	clientAddr := netip.AddrPortFrom(laddr.Unmap(), uint16(client.LocalAddr().(*net.UDPAddr).Port))

	assert.Eventually(t, func() bool {
		_, stillThere := e.sockmap.m.Load(clientAddr)
		return !stillThere
	}, 3*time.Second, 20*time.Millisecond, "association should be evicted from sockmap after idle timeout")

	_, ok = e.Metrics.UDPEntry(clientAddr)
	assert.False(t, ok, "metrics entry should be removed once the association is evicted")
}
