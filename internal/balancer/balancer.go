// Package balancer selects a remote peer token given a source IP,
// grounded on original_source/realm_lb/src/balancer.rs. The weighted
// cumulative-sum slot table and its iphash/round-robin strategies are
// reimplemented in Go; the Rust crate's ip_hash.rs/round_robin.rs were
// not present in the retrieval pack, so the slot-table construction
// below is original, built to the same weighted iphash/round-robin
// strategy semantics.
package balancer

import (
	"fmt"
	"hash/maphash"
	"net"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/relaymesh/relaymesh/internal/rerrors"
)

// Strategy names a load-balancing algorithm.
type Strategy int

const (
	Off Strategy = iota
	IPHash
	RoundRobin
)

func (s Strategy) String() string {
	switch s {
	case Off:
		return "off"
	case IPHash:
		return "iphash"
	case RoundRobin:
		return "roundrobin"
	default:
		return "unknown"
	}
}

func strategyFromString(s string) (Strategy, error) {
	switch s {
	case "off":
		return Off, nil
	case "iphash":
		return IPHash, nil
	case "roundrobin":
		return RoundRobin, nil
	default:
		return Off, rerrors.New("unknown balancer strategy ", s).AtWarning()
	}
}

// slotTable expands a weight vector into a flat list of tokens, one
// per slot, so that token k appears weights[k] times. An empty or
// all-zero weight vector yields an empty table.
func slotTable(weights []uint8) []int {
	total := 0
	for _, w := range weights {
		total += int(w)
	}
	slots := make([]int, 0, total)
	for token, w := range weights {
		for i := uint8(0); i < w; i++ {
			slots = append(slots, token)
		}
	}
	return slots
}

// Balancer picks a remote token for each new flow. The zero value
// behaves as the Off strategy.
type Balancer struct {
	strategy Strategy
	weights  []uint8
	slots    []int
	seed     maphash.Seed
	counter  atomic.Uint64
}

// New constructs a Balancer for the given strategy and weight vector.
func New(strategy Strategy, weights []uint8) *Balancer {
	return &Balancer{
		strategy: strategy,
		weights:  weights,
		slots:    slotTable(weights),
		seed:     maphash.MakeSeed(),
	}
}

// Strategy returns the configured strategy.
func (b *Balancer) Strategy() Strategy {
	if b == nil {
		return Off
	}
	return b.strategy
}

// Total returns the number of peers the balancer knows about.
func (b *Balancer) Total() int {
	if b == nil {
		return 0
	}
	return len(b.weights)
}

// Next selects a token for srcIP. A nil Balancer, an Off strategy, or a
// strategy with zero configured slots all select token 0, the primary
// remote.
func (b *Balancer) Next(srcIP net.IP) int {
	if b == nil || b.strategy == Off || len(b.slots) == 0 {
		return 0
	}
	switch b.strategy {
	case IPHash:
		var h maphash.Hash
		h.SetSeed(b.seed)
		h.Write(srcIP)
		idx := h.Sum64() % uint64(len(b.slots))
		return b.slots[idx]
	case RoundRobin:
		idx := b.counter.Add(1) - 1
		return b.slots[idx%uint64(len(b.slots))]
	default:
		return 0
	}
}

// ParseString parses a balancer configuration string formatted as
// "<strategy>: w1, w2, ...". An empty weight list is valid.
func ParseString(s string) (*Balancer, error) {
	strategyPart, weightPart, ok := strings.Cut(s, ":")
	if !ok {
		return nil, rerrors.New("invalid balancer string ", s, `, want "strategy: w1, w2, ..."`).AtWarning()
	}
	strategy, err := strategyFromString(strings.TrimSpace(strategyPart))
	if err != nil {
		return nil, err
	}

	weightPart = strings.TrimSpace(weightPart)
	var weights []uint8
	if weightPart != "" {
		for _, tok := range strings.Split(weightPart, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			w, err := strconv.ParseUint(tok, 10, 8)
			if err != nil {
				return nil, rerrors.New("invalid balancer weight ", tok, " in ", s).Base(err).AtWarning()
			}
			weights = append(weights, uint8(w))
		}
	}
	return New(strategy, weights), nil
}

// String renders the balancer back to its configuration-string form.
func (b *Balancer) String() string {
	if b == nil {
		return Off.String() + ":"
	}
	parts := make([]string, len(b.weights))
	for i, w := range b.weights {
		parts[i] = strconv.Itoa(int(w))
	}
	return fmt.Sprintf("%s: %s", b.strategy, strings.Join(parts, ", "))
}
