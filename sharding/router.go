package sharding

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
)

// Router maps a partition key onto one of N shards.
// N is fixed for the life of a deployment; changing it remaps every key.
type Router struct {
	n uint32
}

// NewRouter creates a router over n shards
func NewRouter(n int) (*Router, error) {
	if n <= 0 {
		return nil, fmt.Errorf("shard count must be positive, got %d", n)
	}
	return &Router{n: uint32(n)}, nil
}

// ShardOf returns the shard for key: the first 32 bits of MD5(key),
// read big-endian, modulo N. Pure and stable across processes.
func (r *Router) ShardOf(key string) int {
	sum := md5.Sum([]byte(key))
	return int(binary.BigEndian.Uint32(sum[:4]) % r.n)
}

// NumShards returns N
func (r *Router) NumShards() int {
	return int(r.n)
}
