package host

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relaymesh/internal/config"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func startEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 4096)
				for {
					n, err := conn.Read(buf)
					if err != nil {
						return
					}
					conn.Write(buf[:n])
				}
			}()
		}
	}()
	return ln.Addr().String()
}

func TestInstanceStartActivatesConfiguredRuleAndControlPlane(t *testing.T) {
	echoAddr := startEchoServer(t)
	listenPort := freePort(t)
	apiPort := freePort(t)

	conf := &config.FullConf{
		API: config.APIConfig{Host: "127.0.0.1", Port: apiPort},
		Endpoints: []config.EndpointConf{
			{Listen: fmt.Sprintf("127.0.0.1:%d", listenPort), Remote: echoAddr},
		},
	}

	inst := New(conf)
	require.NoError(t, inst.Start())
	defer inst.Close()

	assert.Len(t, inst.Rules.List(), 1)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", listenPort))
	require.NoError(t, err)
	defer conn.Close()

	msg := []byte("hi host")
	_, err = conn.Write(msg)
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, len(msg))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, msg, buf[:n])

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/rules/tcp", apiPort))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

func TestInstanceCreateRuleViaControlPlane(t *testing.T) {
	echoAddr := startEchoServer(t)
	newRulePort := freePort(t)
	apiPort := freePort(t)

	conf := &config.FullConf{API: config.APIConfig{Host: "127.0.0.1", Port: apiPort}}
	inst := New(conf)
	require.NoError(t, inst.Start())
	defer inst.Close()

	body := fmt.Sprintf(`{"endpoint":{"listen":"127.0.0.1:%d","remote":%q}}`, newRulePort, echoAddr)
	resp, err := http.Post(fmt.Sprintf("http://127.0.0.1:%d/rules", apiPort), "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 201, resp.StatusCode)

	time.Sleep(50 * time.Millisecond)
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", newRulePort))
	require.NoError(t, err)
	conn.Close()
}

// TestInstanceConcurrentCreateRuleRejectsDuplicate drives two real
// concurrent POST /rules for the same listen address through the
// control plane and host.activate. Exactly one must bind the socket
// and succeed with 201; the other must be rejected as a duplicate with
// 409, never with a 500 from a racing EADDRINUSE bind failure.
func TestInstanceConcurrentCreateRuleRejectsDuplicate(t *testing.T) {
	echoAddr := startEchoServer(t)
	newRulePort := freePort(t)
	apiPort := freePort(t)

	conf := &config.FullConf{API: config.APIConfig{Host: "127.0.0.1", Port: apiPort}}
	inst := New(conf)
	require.NoError(t, inst.Start())
	defer inst.Close()

	body := fmt.Sprintf(`{"endpoint":{"listen":"127.0.0.1:%d","remote":%q}}`, newRulePort, echoAddr)
	url := fmt.Sprintf("http://127.0.0.1:%d/rules", apiPort)

	var wg sync.WaitGroup
	statuses := make([]int, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Post(url, "application/json", strings.NewReader(body))
			require.NoError(t, err)
			defer resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	assert.ElementsMatch(t, []int{201, 409}, statuses)
}
