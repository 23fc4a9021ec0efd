package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
	"github.com/btmesh-protocol/btmesh-go/pkg/pdu"
)

type replayEntry struct {
	seq     mesh.Seq
	ivIndex uint16
}

// ReplayProtection tracks the highest sequence number seen per source,
// alongside the low 16 bits of the IV index it arrived under. Entries for
// quiet sources fall out under LRU pressure.
type ReplayProtection struct {
	entries *lru.Cache[mesh.UnicastAddress, *replayEntry]
}

// NewReplayProtection creates a filter tracking up to capacity sources;
// capacity <= 0 selects DefaultCapacity.
func NewReplayProtection(capacity int) (*ReplayProtection, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	entries, err := lru.New[mesh.UnicastAddress, *replayEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &ReplayProtection{entries: entries}, nil
}

// Check marks the PDU's metadata replay-protected when its sequence does
// not advance past what this source already sent under the current IV
// index. Fresh traffic updates the tracked high-water mark.
func (r *ReplayProtection) Check(p *pdu.CleartextNetworkPDU) {
	ivIndex := uint16(uint32(p.Meta.IvIndex) & 0xFFFF)

	entry, ok := r.entries.Get(p.Src)
	if !ok {
		r.entries.Add(p.Src, &replayEntry{seq: p.Seq, ivIndex: ivIndex})
		p.Meta.ReplayProtected = false
		return
	}

	switch {
	case ivIndex < entry.ivIndex:
		p.Meta.ReplayProtected = true
	case ivIndex == entry.ivIndex && p.Seq <= entry.seq:
		p.Meta.ReplayProtected = true
	default:
		entry.ivIndex = ivIndex
		entry.seq = p.Seq
		p.Meta.ReplayProtected = false
	}
}
