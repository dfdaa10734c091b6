package udprelay

import (
	"net"
	"net/netip"

	"github.com/relaymesh/relaymesh/internal/utils"
)

// sockMap is the per-source association table, grounded on the
// original's SockMap: one outbound socket per client address, created
// at most once per address.
type sockMap struct {
	m *utils.TypedSyncMap[netip.AddrPort, net.Conn]
}

func newSockMap() *sockMap {
	return &sockMap{m: utils.NewTypedSyncMap[netip.AddrPort, net.Conn]()}
}

// findOrCreate returns the existing association for addr, or calls
// create and races to install its result. If another goroutine won
// the race, the losing connection is closed and discarded — find_or_
// insert in the original instead does this under a per-key lock, but
// the two are observationally identical for a socket nobody has used
// yet.
func (s *sockMap) findOrCreate(addr netip.AddrPort, create func() (net.Conn, error)) (conn net.Conn, isNew bool, err error) {
	if existing, ok := s.m.Load(addr); ok {
		return existing, false, nil
	}
	created, err := create()
	if err != nil {
		return nil, false, err
	}
	actual, loaded := s.m.LoadOrStore(addr, created)
	if loaded {
		created.Close()
		return actual, false, nil
	}
	return actual, true, nil
}

func (s *sockMap) remove(addr netip.AddrPort) {
	s.m.Delete(addr)
}
