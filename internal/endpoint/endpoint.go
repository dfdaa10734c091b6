// Package endpoint models a relay rule: its local address, remote peers,
// and connection options. Grounded on original_source/realm_core/src/
// endpoint.rs, translated into idiomatic Go (JSON tags instead of serde,
// explicit zero-value defaults instead of #[serde(default)]).
package endpoint

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/relaymesh/relaymesh/internal/rerrors"
)

// RemoteAddr is either a literal socket address or an (hostname, port)
// pair resolved lazily at the point of use.
type RemoteAddr struct {
	// Host is either a dotted IP or a hostname.
	Host string `json:"host"`
	Port uint16 `json:"port"`
}

func (r RemoteAddr) String() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(int(r.Port)))
}

// IsLiteralIP reports whether Host already names an IP address, meaning
// resolution can be skipped.
func (r RemoteAddr) IsLiteralIP() bool {
	return net.ParseIP(r.Host) != nil
}

// ParseRemoteAddr parses "host:port" into a RemoteAddr.
func ParseRemoteAddr(s string) (RemoteAddr, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return RemoteAddr{}, rerrors.New("invalid remote address ", s).Base(err).AtWarning()
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return RemoteAddr{}, rerrors.New("invalid remote port in ", s).Base(err).AtWarning()
	}
	return RemoteAddr{Host: host, Port: uint16(port)}, nil
}

// ProxyOpts controls PROXY protocol v1/v2 injection/consumption.
type ProxyOpts struct {
	SendProxy          bool `json:"send_proxy"`
	AcceptProxy        bool `json:"accept_proxy"`
	SendProxyVersion   int  `json:"send_proxy_version"`
	AcceptProxyTimeout int  `json:"accept_proxy_timeout"`
}

// Enabled reports whether either direction of the PROXY protocol is on.
func (p ProxyOpts) Enabled() bool {
	return p.SendProxy || p.AcceptProxy
}

// BindOpts controls how the listening socket is created.
type BindOpts struct {
	IPv6Only      bool   `json:"ipv6_only"`
	BindInterface string `json:"bind_interface,omitempty"`
}

// ConnectOpts controls how an outbound connection/association is made.
type ConnectOpts struct {
	ConnectTimeoutSeconds   int        `json:"connect_timeout"`
	AssociateTimeoutSeconds int        `json:"associate_timeout"`
	TCPKeepaliveSeconds     int        `json:"tcp_keepalive"`
	TCPKeepaliveProbe       int        `json:"tcp_keepalive_probe"`
	BindAddress             string     `json:"bind_address,omitempty"`
	BindInterface           string     `json:"bind_interface,omitempty"`
	Proxy                   ProxyOpts  `json:"proxy_opts"`
	Balancer                string     `json:"balancer,omitempty"`
}

// Endpoint is an immutable relay rule: one local address, a primary
// remote, and any number of extra remotes selectable by the balancer.
type Endpoint struct {
	LocalAddr   string       `json:"laddr"`
	RemoteAddr  RemoteAddr   `json:"raddr"`
	ExtraRemote []RemoteAddr `json:"extra_raddrs,omitempty"`
	BindOpts    BindOpts     `json:"bind_opts"`
	ConnOpts    ConnectOpts  `json:"conn_opts"`
}

// RuleID is the identifier this endpoint is registered under in the
// control plane: its local address string.
func (e *Endpoint) RuleID() string { return e.LocalAddr }

// Resolve returns the RemoteAddr named by token: 0 is the primary, k>0 is
// ExtraRemote[k-1]. Token values outside this range (or a primary-less
// endpoint) collapse to the primary.
func (e *Endpoint) Resolve(token int) RemoteAddr {
	if token <= 0 || token > len(e.ExtraRemote) {
		return e.RemoteAddr
	}
	return e.ExtraRemote[token-1]
}

// AllRemotes returns the primary followed by every extra remote.
func (e *Endpoint) AllRemotes() []RemoteAddr {
	out := make([]RemoteAddr, 0, len(e.ExtraRemote)+1)
	out = append(out, e.RemoteAddr)
	out = append(out, e.ExtraRemote...)
	return out
}

func (e *Endpoint) String() string {
	b := strings.Builder{}
	fmt.Fprintf(&b, "%s -> [%s", e.LocalAddr, e.RemoteAddr)
	for _, r := range e.ExtraRemote {
		fmt.Fprintf(&b, "|%s", r)
	}
	b.WriteString("]")
	return b.String()
}

// Info is the fully-built description of one relay rule: the endpoint
// plus which of TCP/UDP it actually runs.
type Info struct {
	Endpoint *Endpoint `json:"endpoint"`
	NoTCP    bool      `json:"no_tcp"`
	UseUDP   bool      `json:"use_udp"`
}

// Validate enforces "at least one of TCP or UDP must be enabled".
func (i *Info) Validate() error {
	if i.NoTCP && !i.UseUDP {
		return rerrors.New("endpoint ", i.Endpoint.LocalAddr, " has neither TCP nor UDP enabled").AtWarning()
	}
	if i.Endpoint.LocalAddr == "" {
		return rerrors.New("endpoint has no local address").AtWarning()
	}
	return nil
}
