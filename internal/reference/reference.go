// Package reference generates payment references. Korapay requires a unique
// reference of at least 8 characters per charge, and treats references as
// single-use, so every new checkout attempt needs a fresh one.
package reference

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const randomLen = 6

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// New returns PREFIX-TIMESTAMP-RANDOM, e.g. LEAD-LXK2M9QH-4TZQ1B. The
// timestamp is the current unix millisecond count in base 36; the suffix is
// drawn from crypto/rand.
func New(prefix string) string {
	ts := strings.ToUpper(strconv.FormatInt(time.Now().UnixMilli(), 36))

	suffix := make([]byte, randomLen)
	max := big.NewInt(int64(len(alphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails if the OS entropy source is broken;
			// fall back to a time-derived byte rather than aborting checkout.
			suffix[i] = alphabet[time.Now().UnixNano()%int64(len(alphabet))]
			continue
		}
		suffix[i] = alphabet[n.Int64()]
	}

	return prefix + "-" + ts + "-" + string(suffix)
}
