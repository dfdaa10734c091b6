// Package tcprelay runs a TCP relay rule's accept loop: an optional
// pre-connect hook, balancer-based remote selection, connect, and a
// bidirectional byte-accounted copy. Grounded on Xray-core's
// proxy/dokodemo (inbound accept/log-access pattern) and proxy/freedom
// (outbound dial/proxy-protocol pattern), recombined into one
// relay since this repo has no dispatcher to sit between them.
package tcprelay

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pires/go-proxyproto"

	"github.com/relaymesh/relaymesh/internal/balancer"
	"github.com/relaymesh/relaymesh/internal/endpoint"
	"github.com/relaymesh/relaymesh/internal/metrics"
	"github.com/relaymesh/relaymesh/internal/rerrors"
	"github.com/relaymesh/relaymesh/internal/rlog"
	"github.com/relaymesh/relaymesh/internal/sockopts"
)

// PreConnectResult is the pre-connect hook's verdict: deny the
// connection outright, or optionally force a specific remote token
// when no balancer is configured.
type PreConnectResult struct {
	Deny  bool
	Token int
}

// PreConnectHook is called once per accepted connection before any
// remote is chosen.
type PreConnectHook func(ctx context.Context, client net.Addr) PreConnectResult

// Resolver resolves a hostname to an address usable for dialing.
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

// Relay runs one rule's TCP accept loop.
type Relay struct {
	Info     *endpoint.Info
	Balancer *balancer.Balancer
	Metrics  *metrics.Registry
	Resolver Resolver
	PreConnect PreConnectHook

	listener net.Listener
}

// Listen binds the listening socket per BindOpts, wrapping it in a
// PROXY-protocol listener when AcceptProxy is enabled.
func (r *Relay) Listen(ctx context.Context) error {
	if r.Resolver == nil {
		r.Resolver = DefaultResolver
	}

	lc := sockopts.ListenConfigFor(r.Info.Endpoint.BindOpts)
	ln, err := lc.Listen(ctx, "tcp", r.Info.Endpoint.LocalAddr)
	if err != nil {
		return rerrors.New("binding tcp listener on ", r.Info.Endpoint.LocalAddr).Base(err).AtError().WithKind(rerrors.KindBindFailed)
	}

	proxyOpts := r.Info.Endpoint.ConnOpts.Proxy
	if proxyOpts.AcceptProxy {
		ln = &proxyproto.Listener{
			Listener:          ln,
			ReadHeaderTimeout: time.Duration(proxyOpts.AcceptProxyTimeout) * time.Second,
		}
	}
	r.listener = ln
	return nil
}

// Close stops accepting new connections.
func (r *Relay) Close() error {
	if r.listener == nil {
		return nil
	}
	return r.listener.Close()
}

// Serve runs the accept loop until the listener is closed or ctx is
// cancelled. A transient accept error is logged and the loop
// continues; only the listening socket itself closing ends it.
func (r *Relay) Serve(ctx context.Context) error {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if isClosedErr(err) {
				return nil
			}
			rlog.Debugf("accept error on %s: %v", r.Info.Endpoint.LocalAddr, err)
			continue
		}
		go r.handle(ctx, conn)
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

func (r *Relay) handle(ctx context.Context, client net.Conn) {
	defer client.Close()

	token := 0
	if r.PreConnect != nil {
		result := r.PreConnect(ctx, client.RemoteAddr())
		if result.Deny {
			rlog.LogAccess(&rlog.AccessMessage{
				From:   client.RemoteAddr(),
				To:     r.Info.Endpoint.RemoteAddr,
				Status: rlog.AccessRejected,
				Reason: "denied by pre-connect hook",
			})
			return
		}
		token = result.Token
	}
	if r.Balancer != nil {
		srcIP := addrIP(client.RemoteAddr())
		token = r.Balancer.Next(srcIP)
	}

	target := r.Info.Endpoint.Resolve(token)
	remoteConn, err := r.dial(ctx, target)
	if err != nil {
		rlog.LogAccess(&rlog.AccessMessage{
			From:   client.RemoteAddr(),
			To:     target,
			Status: rlog.AccessRejected,
			Reason: err.Error(),
		})
		return
	}
	defer remoteConn.Close()

	connOpts := r.Info.Endpoint.ConnOpts
	if connOpts.Proxy.SendProxy {
		version := byte(connOpts.Proxy.SendProxyVersion)
		if version != 1 && version != 2 {
			version = 1
		}
		header := proxyproto.HeaderProxyFromAddrs(version, client.RemoteAddr(), remoteConn.RemoteAddr())
		if _, err := header.WriteTo(remoteConn); err != nil {
			rlog.Debugf("proxy-protocol emit failed for %v: %v", client.RemoteAddr(), err)
			return
		}
	}

	id := uuid.NewString()
	cm := metrics.NewConnectionMetrics()
	r.Metrics.RegisterTCP(id, cm)
	defer r.Metrics.RemoveTCP(id)

	rlog.LogAccess(&rlog.AccessMessage{
		From:   client.RemoteAddr(),
		To:     target,
		Status: rlog.AccessAccepted,
	})

	tx, rx, err := relay(client, remoteConn)
	cm.SetFinal(tx, rx)
	if err != nil {
		rlog.Debugf("relay ended for %v -> %v: %v", client.RemoteAddr(), target, err)
	}
}

func (r *Relay) dial(ctx context.Context, target endpoint.RemoteAddr) (net.Conn, error) {
	opts := r.Info.Endpoint.ConnOpts
	dialer, err := sockopts.DialerFor(opts)
	if err != nil {
		return nil, rerrors.New("building dialer").Base(err).AtWarning().WithKind(rerrors.KindInvalidConfig)
	}

	host := target.Host
	if !target.IsLiteralIP() {
		ip, err := r.Resolver.Resolve(ctx, target.Host)
		if err != nil {
			return nil, rerrors.New("resolving ", target.Host).Base(err).AtWarning().WithKind(rerrors.KindConnectFailed)
		}
		host = ip.String()
	}

	dialCtx := ctx
	if opts.ConnectTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, time.Duration(opts.ConnectTimeoutSeconds)*time.Second)
		defer cancel()
	}

	conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(int(target.Port))))
	if err != nil {
		if dialCtx.Err() != nil {
			return nil, rerrors.New("connect timeout to ", target).Base(err).AtDebug().WithKind(rerrors.KindConnectTimeout)
		}
		return nil, rerrors.New("connect failed to ", target).Base(err).AtDebug().WithKind(rerrors.KindConnectFailed)
	}
	return conn, nil
}

func addrIP(addr net.Addr) net.IP {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}
