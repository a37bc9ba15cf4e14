package kv

import (
	"fmt"
	"hash/crc32"
	"strconv"
)

// ShardKey resolves the scored-set key for userID under the given prefix
// and shard count, per spec.md §4.D: "onlineUsers:<shard>" where
// shard = hash(user) mod N. All operations touching a user must resolve
// to the same shard, so this is the single place that decision is made.
func ShardKey(prefix string, numShards int, userID int64) string {
	if numShards <= 1 {
		return prefix
	}
	idx := crc32.ChecksumIEEE([]byte(strconv.FormatInt(userID, 10))) % uint32(numShards)
	return fmt.Sprintf("%s:%d", prefix, idx)
}

// ShardKeys returns every shard key for the given prefix/shard count, used
// by the reaper to iterate all shards.
func ShardKeys(prefix string, numShards int) []string {
	if numShards <= 1 {
		return []string{prefix}
	}
	keys := make([]string, numShards)
	for i := 0; i < numShards; i++ {
		keys[i] = fmt.Sprintf("%s:%d", prefix, i)
	}
	return keys
}

// StateKey resolves the field-map key for a user's presence state.
func StateKey(prefix string, userID int64) string {
	return fmt.Sprintf("%s:%d", prefix, userID)
}
