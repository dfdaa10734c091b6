//go:build linux

package udprelay

import (
	"net"
	"net/netip"

	"golang.org/x/net/ipv4"
)

// recvBatch reads up to len(bufs) datagrams in one syscall via
// recvmmsg, mirroring batched::recv_some in the original.
func recvBatch(conn *net.UDPConn, bufs [][]byte) ([]Packet, error) {
	pc := ipv4.NewPacketConn(conn)
	msgs := make([]ipv4.Message, len(bufs))
	for i := range msgs {
		msgs[i].Buffers = [][]byte{bufs[i]}
	}
	n, err := pc.ReadBatch(msgs, 0)
	if err != nil {
		return nil, err
	}
	pkts := make([]Packet, 0, n)
	for i := 0; i < n; i++ {
		addr, ok := netip.AddrFromSlice(msgs[i].Addr.(*net.UDPAddr).IP)
		if !ok {
			continue
		}
		port := uint16(msgs[i].Addr.(*net.UDPAddr).Port)
		pkts = append(pkts, Packet{
			Addr: netip.AddrPortFrom(addr, port),
			Data: bufs[i][:msgs[i].N],
		})
	}
	return pkts, nil
}
