package util

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// digestLen is the width of the hex xxhash64 suffix.
const digestLen = 16

// Compact bounds key to max bytes. Keys that fit are returned unchanged.
// Longer keys keep their first segment (the type name) when it fits and
// replace the remainder with a fixed-width xxhash64 digest of the whole key.
// max <= 0 disables compaction.
func Compact(key string, max int) string {
	if max <= 0 || len(key) <= max {
		return key
	}
	sum := strconv.FormatUint(xxhash.Sum64String(key), 16)
	digest := strings.Repeat("0", digestLen-len(sum)) + sum

	prefix := ""
	if i := strings.IndexByte(key, ':'); i > 0 {
		prefix = key[:i+1]
	}
	if len(prefix)+1+digestLen > max {
		if max < digestLen {
			return digest[:max]
		}
		return digest
	}
	return prefix + "#" + digest
}
