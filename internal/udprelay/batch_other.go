//go:build !linux

package udprelay

import "net"

// recvBatch has no recvmmsg-equivalent outside Linux, so it reads one
// datagram per call; the caller's batching loop still works, just
// with a batch size of (at most) one.
func recvBatch(conn *net.UDPConn, bufs [][]byte) ([]Packet, error) {
	n, addr, err := conn.ReadFromUDPAddrPort(bufs[0])
	if err != nil {
		return nil, err
	}
	return []Packet{{Addr: addr, Data: bufs[0][:n]}}, nil
}
