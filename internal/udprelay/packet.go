// Package udprelay is the UDP association engine: batched receive,
// grouping datagrams by source address, per-source association
// sockets, and a return-path task with an idle timeout. Grounded on
// original_source/realm_core/src/udp/middle.rs
// (Registry::batched_recv_on/group_by_addr, associate_and_relay,
// send_back), translated onto net.UDPConn and internal/signal's
// ActivityTimer instead of tokio::time::timeout.
package udprelay

import "net/netip"

const maxBatchPackets = 32

// Packet is one received datagram: its source/destination address and
// payload. The payload slice aliases a shared buffer and must be
// copied before being retained past the current batch.
type Packet struct {
	Addr netip.AddrPort
	Data []byte
}

// groupByAddr partitions pkts in place into contiguous runs sharing
// the same address, with the probe-pointer partition of group_by_inner
// in the original: a probe pointer pulls every remaining same-address
// packet up next to its group, rather than a full sort. Each pull
// shifts the packets it passes over by one slot, so packets keep their
// arrival order within each address and groups appear in order of
// their address's first packet. Returns one slice per group, each
// aliasing a sub-range of pkts.
func groupByAddr(pkts []Packet) [][]Packet {
	n := len(pkts)
	if n == 0 {
		return nil
	}
	var groups [][]Packet
	beg, end := 0, 1
	for end < n {
		if pkts[end].Addr == pkts[beg].Addr {
			end++
			continue
		}
		probe := end + 1
		for probe < n {
			if pkts[probe].Addr == pkts[beg].Addr {
				p := pkts[probe]
				copy(pkts[end+1:probe+1], pkts[end:probe])
				pkts[end] = p
				end++
			}
			probe++
		}
		groups = append(groups, pkts[beg:end])
		beg, end = end, end+1
	}
	groups = append(groups, pkts[beg:end])
	return groups
}
