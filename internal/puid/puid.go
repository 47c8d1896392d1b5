// Package puid generates the short, opaque per-process identifiers the
// tracker uses to key its process tree (spec.md §3, §6). Unlike the
// teacher's ingesters, which stamp a config file with a full RFC-4122
// github.com/google/uuid for long-lived ingester identity, a traced process
// lives for milliseconds and spawns by the thousand in a single build; the
// wire format calls for something shorter that still sorts roughly by
// creation time, so this is a dedicated format rather than a reuse of
// google/uuid.
package puid

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"time"
)

// Root is the fixed sentinel UUID assigned to the supervisor's own root
// node (spec.md §3: "Root node's UUID is a fixed sentinel").
const Root = "ROOT-SUPERVISOR"

// Len is the fixed length of every generated (non-root) UUID: 6 bytes of
// millisecond-resolution time plus 4 bytes of randomness, base64url encoded
// without padding.
const Len = 14

// New returns a fresh process UUID: 6 bytes of millisecond time followed by
// 4 random bytes, base64 URL-safe encoded with no padding -- 10 bytes ->
// exactly 14 characters, matching spec.md §6's "~14 chars" wire format.
func New() (string, error) {
	var buf [10]byte
	ms := uint64(time.Now().UnixMilli())
	var tbuf [8]byte
	binary.BigEndian.PutUint64(tbuf[:], ms)
	copy(buf[0:6], tbuf[2:8]) // low 48 bits of the millisecond clock

	if _, err := rand.Read(buf[6:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}
