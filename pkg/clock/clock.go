// Package clock provides the wall-clock, random identifier, and
// rate-pacing primitives shared by the registry, cells, and drain worker.
package clock

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
	"time"
)

// NowNanos returns the current wall-clock time as nanoseconds since the
// Unix epoch.
func NowNanos() uint64 {
	return uint64(time.Now().UnixNano())
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// RandomUint32 returns a uniformly distributed 32-bit value, seeded from
// the OS CSPRNG rather than a shared process-global generator.
func RandomUint32() uint32 {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(1)<<32))
	if err != nil {
		// crypto/rand failures are effectively unrecoverable (the OS
		// entropy source is gone); fall back to the current time rather
		// than panicking a producer's hot path.
		return uint32(time.Now().UnixNano())
	}
	return uint32(n.Int64())
}

// RandomID returns a random string of the given length drawn uniformly
// from the alphabet [0-9a-z].
func RandomID(length int) string {
	if length <= 0 {
		return ""
	}
	out := make([]byte, length)
	for i := range out {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(idAlphabet))))
		if err != nil {
			out[i] = idAlphabet[0]
			continue
		}
		out[i] = idAlphabet[idx.Int64()]
	}
	return string(out)
}

var nonAlphanumeric = regexp.MustCompile(`[^0-9a-zA-Z]+`)

// NormalizeID lowercases s, replaces runs of non-alphanumeric characters
// with a single underscore, and strips leading underscores. The result
// may be empty.
func NormalizeID(s string) string {
	lowered := strings.ToLower(s)
	replaced := nonAlphanumeric.ReplaceAllString(lowered, "_")
	return strings.TrimLeft(replaced, "_")
}

// DateStamp returns the current UTC time formatted as the compact
// YYYYMMDD_HHMMSS stamp used in container-file names.
func DateStamp() string {
	return time.Now().UTC().Format("20060102_150405")
}
