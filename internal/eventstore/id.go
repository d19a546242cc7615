package eventstore

import (
	"encoding/base32"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

var b32 = base32.HexEncoding.WithPadding(base32.NoPadding)

// newEventID returns a lexicographically time-sortable id: a fixed-width
// big-endian millisecond timestamp followed by random bytes, base32-encoded.
// Sorting ids as strings therefore sorts by creation time, ties broken
// arbitrarily but stably by the random suffix.
func newEventID() string {
	var buf [14]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(time.Now().UnixMilli()))
	randBytes := uuid.New()
	copy(buf[8:], randBytes[:6])
	return b32.EncodeToString(buf[:])
}
