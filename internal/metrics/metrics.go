// Package metrics tracks per-connection byte counters and transfer
// rates for every live TCP connection and UDP association, refreshing
// transfer rates on a periodic background task. Grounded on
// original_source/realm_core/src/monitor.rs (ConnectionMetrics,
// calculate_speed, periodically_calculate_speeds), translated onto
// Xray-core's counter/task primitives instead of DashMap/tokio:
// internal/utils.TypedSyncMap backs the two registries and
// internal/task.Periodic backs the 5-second rate loop, the way
// app/stats.Manager in Xray-core wires counters into a periodic task.
package metrics

import (
	"net/netip"
	"sync"
	"time"

	"github.com/relaymesh/relaymesh/internal/counter"
	"github.com/relaymesh/relaymesh/internal/task"
	"github.com/relaymesh/relaymesh/internal/utils"
)

const rateInterval = 5 * time.Second

// TrafficStats is the monotonic byte-accounting half of a connection's
// metrics: bytes from client to remote (tx) and remote to client (rx).
type TrafficStats struct {
	TxBytes counter.Counter[int64]
	RxBytes counter.Counter[int64]
}

// ConnectionMetrics is one flow's full metrics record: running totals
// plus the most recently computed transfer rates. The rate fields are
// guarded by mu because they're read-modify-written together; the byte
// counters are atomic and need no lock.
type ConnectionMetrics struct {
	Traffic TrafficStats

	StartTime time.Time

	mu               sync.Mutex
	lastTxBytes      int64
	lastRxBytes      int64
	lastUpdateTime   time.Time
	uploadSpeedBps   float64
	downloadSpeedBps float64
}

// NewConnectionMetrics allocates a fresh, zeroed record timestamped now.
func NewConnectionMetrics() *ConnectionMetrics {
	now := time.Now()
	return &ConnectionMetrics{
		Traffic: TrafficStats{
			TxBytes: counter.New64(0),
			RxBytes: counter.New64(0),
		},
		StartTime:      now,
		lastUpdateTime: now,
	}
}

// AddTx accounts bytes sent from client to remote.
func (c *ConnectionMetrics) AddTx(n int64) { c.Traffic.TxBytes.Add(n) }

// AddRx accounts bytes sent from remote to client.
func (c *ConnectionMetrics) AddRx(n int64) { c.Traffic.RxBytes.Add(n) }

// SetFinal assigns both counters once, from the authoritative return
// value of a relay copy, rather than summing incrementally during the
// copy. Avoids double counting under the splice-to-buffered-copy
// fallback.
func (c *ConnectionMetrics) SetFinal(tx, rx int64) {
	c.Traffic.TxBytes.Set(tx)
	c.Traffic.RxBytes.Set(rx)
}

// calculateSpeed recomputes upload/download bps from the delta since
// the last call, skipping updates where less than 1µs has elapsed to
// avoid a division blowing up into a meaningless rate.
func (c *ConnectionMetrics) calculateSpeed() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := now.Sub(c.lastUpdateTime)
	if elapsed < time.Microsecond {
		return
	}
	seconds := elapsed.Seconds()

	tx := c.Traffic.TxBytes.Get()
	rx := c.Traffic.RxBytes.Get()

	txDiff := saturatingSub(tx, c.lastTxBytes)
	rxDiff := saturatingSub(rx, c.lastRxBytes)

	c.uploadSpeedBps = float64(txDiff) * 8.0 / seconds
	c.downloadSpeedBps = float64(rxDiff) * 8.0 / seconds

	c.lastTxBytes = tx
	c.lastRxBytes = rx
	c.lastUpdateTime = now
}

func saturatingSub(a, b int64) int64 {
	if a < b {
		return 0
	}
	return a - b
}

// Snapshot is the control plane's read-only view of a ConnectionMetrics.
type Snapshot struct {
	TxBytes          int64   `json:"tx_bytes"`
	RxBytes          int64   `json:"rx_bytes"`
	UploadSpeedBps   float64 `json:"upload_speed_bps"`
	DownloadSpeedBps float64 `json:"download_speed_bps"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
}

// Snapshot reads a consistent view of the metrics for serialization.
func (c *ConnectionMetrics) Snapshot() Snapshot {
	c.mu.Lock()
	up, down := c.uploadSpeedBps, c.downloadSpeedBps
	c.mu.Unlock()
	return Snapshot{
		TxBytes:          c.Traffic.TxBytes.Get(),
		RxBytes:          c.Traffic.RxBytes.Get(),
		UploadSpeedBps:   up,
		DownloadSpeedBps: down,
		UptimeSeconds:    time.Since(c.StartTime).Seconds(),
	}
}

// Registry holds the two live metrics maps: TCP connections keyed by
// connection-id, UDP associations keyed by client address. Entries are
// inserted before the first byte is accounted and removed on flow
// termination by the relay packages.
type Registry struct {
	tcp *utils.TypedSyncMap[string, *ConnectionMetrics]
	udp *utils.TypedSyncMap[netip.AddrPort, *ConnectionMetrics]

	rate *task.Periodic
}

// NewRegistry constructs an empty registry with its 5-second rate task,
// mirroring periodically_calculate_speeds in the original; the task
// does not run until Start is called.
func NewRegistry() *Registry {
	r := &Registry{
		tcp: utils.NewTypedSyncMap[string, *ConnectionMetrics](),
		udp: utils.NewTypedSyncMap[netip.AddrPort, *ConnectionMetrics](),
	}
	r.rate = &task.Periodic{Interval: rateInterval, Execute: r.tick}
	return r
}

// Start launches the rate task; Close stops it. Split out from
// NewRegistry so tests can construct a Registry without a background
// goroutine running.
func (r *Registry) Start() { r.rate.Start(nil) }
func (r *Registry) Close() error { return r.rate.Close() }

func (r *Registry) tick() error {
	r.tcp.Range(func(_ string, m *ConnectionMetrics) bool {
		m.calculateSpeed()
		return true
	})
	r.udp.Range(func(_ netip.AddrPort, m *ConnectionMetrics) bool {
		m.calculateSpeed()
		return true
	})
	return nil
}

// RegisterTCP inserts a new TCP connection's metrics under id.
func (r *Registry) RegisterTCP(id string, m *ConnectionMetrics) { r.tcp.Store(id, m) }

// RemoveTCP removes a terminated TCP connection's metrics.
func (r *Registry) RemoveTCP(id string) { r.tcp.Delete(id) }

// TCPEntry retrieves one TCP connection's metrics.
func (r *Registry) TCPEntry(id string) (*ConnectionMetrics, bool) { return r.tcp.Load(id) }

// ListTCP returns every tracked TCP connection-id.
func (r *Registry) ListTCP() []string {
	ids := make([]string, 0)
	r.tcp.Range(func(id string, _ *ConnectionMetrics) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// RegisterUDP inserts a new UDP association's metrics under its client
// address, surviving as long as the return-path task is live.
func (r *Registry) RegisterUDP(addr netip.AddrPort, m *ConnectionMetrics) { r.udp.Store(addr, m) }

// RemoveUDP removes a terminated UDP association's metrics.
func (r *Registry) RemoveUDP(addr netip.AddrPort) { r.udp.Delete(addr) }

// UDPEntry retrieves one UDP association's metrics.
func (r *Registry) UDPEntry(addr netip.AddrPort) (*ConnectionMetrics, bool) { return r.udp.Load(addr) }

// ListUDP returns every tracked UDP client address.
func (r *Registry) ListUDP() []netip.AddrPort {
	addrs := make([]netip.AddrPort, 0)
	r.udp.Range(func(addr netip.AddrPort, _ *ConnectionMetrics) bool {
		addrs = append(addrs, addr)
		return true
	})
	return addrs
}
