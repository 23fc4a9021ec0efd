// Package cache holds the two bounded recency filters of the network
// layer: the message cache that suppresses relay loops and duplicate
// delivery, and the replay protection that rejects stale sequence numbers
// per source. Both are fixed-capacity LRU structures; neither is persisted
// and neither is a security boundary on its own.
package cache
