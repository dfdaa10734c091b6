package metrics

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionMetricsAccounting(t *testing.T) {
	m := NewConnectionMetrics()
	m.AddTx(100)
	m.AddRx(200)
	m.AddTx(50)

	snap := m.Snapshot()
	assert.Equal(t, int64(150), snap.TxBytes)
	assert.Equal(t, int64(200), snap.RxBytes)
}

func TestConnectionMetricsSetFinalOverridesIncremental(t *testing.T) {
	m := NewConnectionMetrics()
	m.AddTx(10)
	m.AddRx(10)
	m.SetFinal(999, 888)

	snap := m.Snapshot()
	assert.Equal(t, int64(999), snap.TxBytes)
	assert.Equal(t, int64(888), snap.RxBytes)
}

func TestCalculateSpeedSkipsSubMicrosecond(t *testing.T) {
	m := NewConnectionMetrics()
	m.AddTx(1000)
	m.calculateSpeed()
	m.calculateSpeed() // second call, near-zero elapsed: must not divide by ~0
	snap := m.Snapshot()
	assert.GreaterOrEqual(t, snap.UploadSpeedBps, 0.0)
}

func TestCalculateSpeedComputesRate(t *testing.T) {
	m := NewConnectionMetrics()
	m.lastUpdateTime = time.Now().Add(-time.Second)
	m.AddTx(1000)
	m.calculateSpeed()

	snap := m.Snapshot()
	assert.InDelta(t, 8000.0, snap.UploadSpeedBps, 2000.0)
}

func TestRegistryTCPLifecycle(t *testing.T) {
	r := NewRegistry()
	m := NewConnectionMetrics()
	r.RegisterTCP("conn-1", m)

	got, ok := r.TCPEntry("conn-1")
	require.True(t, ok)
	assert.Same(t, m, got)
	assert.Contains(t, r.ListTCP(), "conn-1")

	r.RemoveTCP("conn-1")
	_, ok = r.TCPEntry("conn-1")
	assert.False(t, ok)
}

func TestRegistryUDPLifecycle(t *testing.T) {
	r := NewRegistry()
	m := NewConnectionMetrics()
	addr := netip.MustParseAddrPort("10.0.0.5:1234")
	r.RegisterUDP(addr, m)

	got, ok := r.UDPEntry(addr)
	require.True(t, ok)
	assert.Same(t, m, got)

	r.RemoveUDP(addr)
	_, ok = r.UDPEntry(addr)
	assert.False(t, ok)
}

func TestRegistryTickCalculatesSpeedForAllEntries(t *testing.T) {
	r := NewRegistry()
	m := NewConnectionMetrics()
	m.lastUpdateTime = time.Now().Add(-time.Second)
	m.AddTx(800)
	r.RegisterTCP("conn-1", m)

	require.NoError(t, r.tick())
	snap := m.Snapshot()
	assert.Greater(t, snap.UploadSpeedBps, 0.0)
}
