package udprelay

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/relaymesh/relaymesh/internal/endpoint"
	"github.com/relaymesh/relaymesh/internal/metrics"
	"github.com/relaymesh/relaymesh/internal/rerrors"
	"github.com/relaymesh/relaymesh/internal/rlog"
	"github.com/relaymesh/relaymesh/internal/signal"
	"github.com/relaymesh/relaymesh/internal/sockopts"
)

const datagramBufSize = 65536

// Resolver resolves a hostname to an address, the UDP engine's
// equivalent of tcprelay.Resolver — kept as a separate type so
// udprelay has no compile-time dependency on the TCP relay package.
type Resolver interface {
	Resolve(ctx context.Context, host string) (net.IP, error)
}

type netResolver struct{}

func (netResolver) Resolve(ctx context.Context, host string) (net.IP, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, rerrors.New("no addresses for ", host).AtWarning()
	}
	return ips[0], nil
}

// DefaultResolver resolves hostnames via the standard library resolver.
var DefaultResolver Resolver = netResolver{}

// Engine runs one rule's UDP association loop.
type Engine struct {
	Info     *endpoint.Info
	Metrics  *metrics.Registry
	Resolver Resolver

	conn    *net.UDPConn
	sockmap *sockMap
}

// Listen binds the UDP listening socket per BindOpts.
func (e *Engine) Listen(ctx context.Context) error {
	if e.Resolver == nil {
		e.Resolver = DefaultResolver
	}
	e.sockmap = newSockMap()

	lc := sockopts.ListenConfigFor(e.Info.Endpoint.BindOpts)
	pc, err := lc.ListenPacket(ctx, "udp", e.Info.Endpoint.LocalAddr)
	if err != nil {
		return rerrors.New("binding udp listener on ", e.Info.Endpoint.LocalAddr).Base(err).AtError().WithKind(rerrors.KindBindFailed)
	}
	udpConn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return rerrors.New("udp listener is not a *net.UDPConn").AtError().WithKind(rerrors.KindBindFailed)
	}
	e.conn = udpConn
	return nil
}

// Close stops the association loop.
func (e *Engine) Close() error {
	if e.conn == nil {
		return nil
	}
	return e.conn.Close()
}

// Serve runs the forward-path loop: batched recv, resolve the remote
// once per batch, group by source address, forward each group to its
// (possibly newly created) per-source association.
func (e *Engine) Serve(ctx context.Context) error {
	bufs := make([][]byte, maxBatchPackets)
	for i := range bufs {
		bufs[i] = make([]byte, datagramBufSize)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		pkts, err := recvBatch(e.conn, bufs)
		if err != nil {
			if isClosedErr(err) {
				return nil
			}
			rlog.Debugf("udp recv error on %s: %v", e.Info.Endpoint.LocalAddr, err)
			continue
		}

		target := e.Info.Endpoint.RemoteAddr // UDP has no balancer; primary remote always wins
		host := target.Host
		if !target.IsLiteralIP() {
			ip, err := e.Resolver.Resolve(ctx, target.Host)
			if err != nil {
				rlog.Debugf("udp resolve error for %s: %v", target.Host, err)
				continue
			}
			host = ip.String()
		}
		remoteAddr := net.JoinHostPort(host, strconv.Itoa(int(target.Port)))

		for _, group := range groupByAddr(pkts) {
			e.forwardGroup(ctx, group, remoteAddr, target)
		}
	}
}

func (e *Engine) forwardGroup(ctx context.Context, group []Packet, remoteAddr string, target endpoint.RemoteAddr) {
	laddr := group[0].Addr

	rconn, isNew, err := e.sockmap.findOrCreate(laddr, func() (net.Conn, error) {
		return e.associate(ctx, remoteAddr)
	})
	if err != nil {
		rlog.Debugf("udp associate failed for %v -> %s: %v", laddr, remoteAddr, err)
		return
	}

	if isNew {
		cm := metrics.NewConnectionMetrics()
		e.Metrics.RegisterUDP(laddr, cm)
		rlog.LogAccess(&rlog.AccessMessage{
			From:   laddr,
			To:     target,
			Status: rlog.AccessAccepted,
		})
		go e.sendBack(laddr, rconn, cm)
	}

	var total int64
	for _, pkt := range group {
		n, err := rconn.Write(pkt.Data)
		if err != nil {
			rlog.Debugf("udp forward write failed for %v: %v", laddr, err)
			break
		}
		total += int64(n)
	}
	if cm, ok := e.Metrics.UDPEntry(laddr); ok {
		cm.AddTx(total)
	}
}

// associate creates the outbound socket for a new client association,
// applying ConnectOpts the same way the TCP relay's dialer does.
func (e *Engine) associate(ctx context.Context, remoteAddr string) (net.Conn, error) {
	dialer, err := sockopts.DialerFor(e.Info.Endpoint.ConnOpts)
	if err != nil {
		return nil, rerrors.New("building udp dialer").Base(err).AtWarning().WithKind(rerrors.KindInvalidConfig)
	}
	conn, err := dialer.DialContext(ctx, "udp", remoteAddr)
	if err != nil {
		return nil, rerrors.New("udp associate to ", remoteAddr).Base(err).AtDebug().WithKind(rerrors.KindConnectFailed)
	}
	return conn, nil
}

// sendBack is the return-path task: reads datagrams from the
// per-source association and writes them back to the listening
// socket addressed to the original client, terminating after the
// association's idle timeout.
func (e *Engine) sendBack(laddr netip.AddrPort, rconn net.Conn, cm *metrics.ConnectionMetrics) {
	defer func() {
		rconn.Close()
		e.sockmap.remove(laddr)
		e.Metrics.RemoveUDP(laddr)
	}()

	timeout := time.Duration(e.Info.Endpoint.ConnOpts.AssociateTimeoutSeconds) * time.Second
	timer := signal.CancelAfterInactivity(func() { rconn.Close() }, timeout)

	buf := make([]byte, datagramBufSize)
	for {
		n, err := rconn.Read(buf)
		if err != nil {
			return // peer close or idle-timeout close, both normal termination
		}
		timer.Update()

		if _, err := e.conn.WriteToUDPAddrPort(buf[:n], laddr); err != nil {
			rlog.Debugf("udp send-back write failed for %v: %v", laddr, err)
			return
		}
		cm.AddRx(int64(n))
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
