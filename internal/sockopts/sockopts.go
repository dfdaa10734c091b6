// Package sockopts applies the per-connection socket options
// ConnectOpts names: TCP keepalive with an explicit probe count, and
// binding the outbound socket to a source address or interface.
// Grounded on Xray-core's transport/internet/sockopt_linux.go /
// system_listener.go split between a real Linux implementation and an
// other-OS stub.
package sockopts

import (
	"net"
	"syscall"
	"time"

	"github.com/relaymesh/relaymesh/internal/endpoint"
	"github.com/relaymesh/relaymesh/internal/rerrors"
)

// DialerFor builds a net.Dialer honoring ConnectOpts' timeout, source
// address, and keepalive settings. Interface binding and keepalive
// probe count are applied in the Control callback since net.Dialer has
// no portable field for either.
func DialerFor(opts endpoint.ConnectOpts) (*net.Dialer, error) {
	d := &net.Dialer{}

	if opts.ConnectTimeoutSeconds > 0 {
		d.Timeout = time.Duration(opts.ConnectTimeoutSeconds) * time.Second
	}
	if opts.TCPKeepaliveSeconds > 0 {
		d.KeepAlive = time.Duration(opts.TCPKeepaliveSeconds) * time.Second
	} else if opts.TCPKeepaliveSeconds < 0 {
		d.KeepAlive = -1 // disabled, matching net.Dialer's documented sentinel
	}

	if opts.BindAddress != "" {
		addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(opts.BindAddress, "0"))
		if err != nil {
			return nil, rerrors.New("resolving bind_address ", opts.BindAddress).Base(err).AtWarning()
		}
		d.LocalAddr = addr
	}

	if opts.BindInterface != "" || opts.TCPKeepaliveProbe > 0 {
		d.Control = func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				if opts.BindInterface != "" {
					if err := bindToDevice(fd, opts.BindInterface); err != nil {
						ctrlErr = rerrors.New("binding to interface ", opts.BindInterface).Base(err).AtWarning()
						return
					}
				}
				if opts.TCPKeepaliveProbe > 0 {
					if err := setKeepaliveProbeCount(fd, opts.TCPKeepaliveProbe); err != nil {
						ctrlErr = rerrors.New("setting tcp_keepalive_probe").Base(err).AtWarning()
						return
					}
				}
			})
			if err != nil {
				return err
			}
			return ctrlErr
		}
	}

	return d, nil
}

// ListenConfigFor builds a net.ListenConfig honoring BindOpts.
func ListenConfigFor(opts endpoint.BindOpts) *net.ListenConfig {
	lc := &net.ListenConfig{}
	if opts.BindInterface != "" {
		lc.Control = func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				if err := bindToDevice(fd, opts.BindInterface); err != nil {
					ctrlErr = rerrors.New("binding listener to interface ", opts.BindInterface).Base(err).AtWarning()
				}
			})
			if err != nil {
				return err
			}
			return ctrlErr
		}
	}
	if opts.IPv6Only {
		baseControl := lc.Control
		lc.Control = func(network, address string, c syscall.RawConn) error {
			if err := setIPv6Only(c); err != nil {
				return err
			}
			if baseControl != nil {
				return baseControl(network, address, c)
			}
			return nil
		}
	}
	return lc
}
