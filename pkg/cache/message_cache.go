package cache

import (
	"hash/fnv"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
	"github.com/btmesh-protocol/btmesh-go/pkg/pdu"
)

// DefaultCapacity is the default number of remembered messages.
const DefaultCapacity = 32

type messageKey struct {
	src  mesh.UnicastAddress
	hash uint64
}

// MessageCache deduplicates inbound network PDUs by (source, content hash)
// under LRU pressure. A hit refreshes the entry's recency.
type MessageCache struct {
	entries *lru.Cache[messageKey, struct{}]
}

// NewMessageCache creates a cache remembering up to capacity messages;
// capacity <= 0 selects DefaultCapacity.
func NewMessageCache(capacity int) (*MessageCache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	entries, err := lru.New[messageKey, struct{}](capacity)
	if err != nil {
		return nil, err
	}
	return &MessageCache{entries: entries}, nil
}

// Check classifies a decrypted network PDU and records it. The first
// sighting marks the PDU relayable and returns true; any duplicate clears
// ShouldRelay and returns false. A transport payload over the single-PDU
// limit cannot have arrived intact, so it is treated as non-relayable.
func (c *MessageCache) Check(p *pdu.CleartextNetworkPDU) bool {
	if len(p.TransportPDU) > pdu.MaxTransportPDU {
		p.Meta.ShouldRelay = false
		return false
	}
	key := messageKey{src: p.Src, hash: hashOf(p.TransportPDU)}
	if _, seen := c.entries.Get(key); seen {
		p.Meta.ShouldRelay = false
		return false
	}
	c.entries.Add(key, struct{}{})
	p.Meta.ShouldRelay = true
	return true
}

// Len returns the number of remembered messages.
func (c *MessageCache) Len() int { return c.entries.Len() }

func hashOf(content []byte) uint64 {
	h := fnv.New64a()
	h.Write(content)
	return h.Sum64()
}
