package directory

import "github.com/cespare/xxhash/v2"

// xxhashSum hashes a shard-cursor key for the rendezvous partition used
// by Sweeper. A tiny indirection so sweep.go stays focused on sweep
// policy rather than hash plumbing.
func xxhashSum(s string) uint64 {
	return xxhash.Sum64String(s)
}
