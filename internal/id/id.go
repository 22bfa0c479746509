package id

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session returns a new random session identifier.
func Session() string {
	return uuid.NewString()
}

// Exchange returns a new exchange identifier (a ULID).
func Exchange() string {
	return ULID()
}

// ulidEncoding is Crockford's Base32 (no I, L, O, U).
const ulidEncoding = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const (
	ulidLen     = 26
	ulidTimeLen = 10
)

var (
	ulidMu      sync.Mutex
	ulidLastMs  int64
	ulidCounter uint16
)

// ULID generates a new ULID: 10 characters of millisecond timestamp followed
// by 16 characters of randomness. IDs generated within the same millisecond
// get a counter mixed into the random part so bursts stay unique.
func ULID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()

	now := time.Now().UnixMilli()
	if now == ulidLastMs {
		ulidCounter++
		if ulidCounter == 0 {
			for now == ulidLastMs {
				time.Sleep(time.Millisecond)
				now = time.Now().UnixMilli()
			}
			ulidLastMs = now
		}
	} else {
		ulidLastMs = now
		ulidCounter = 0
	}

	return encodeULID(now, ulidCounter)
}

func encodeULID(ms int64, counter uint16) string {
	out := make([]byte, ulidLen)

	for i := ulidTimeLen - 1; i >= 0; i-- {
		out[i] = ulidEncoding[ms&0x1F]
		ms >>= 5
	}

	var entropy [10]byte
	_, _ = rand.Read(entropy[:])
	entropy[0] ^= byte(counter >> 8)
	entropy[1] ^= byte(counter)

	// 80 random bits, 5 bits per output character, most significant first.
	var acc uint64
	bits := 0
	pos := ulidTimeLen
	for _, b := range entropy {
		acc = acc<<8 | uint64(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			out[pos] = ulidEncoding[(acc>>uint(bits))&0x1F]
			pos++
		}
	}

	return string(out)
}

// IsValidULID reports whether s is a well-formed ULID.
func IsValidULID(s string) bool {
	if len(s) != ulidLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if decodeULIDChar(s[i]) < 0 {
			return false
		}
	}
	return true
}

// ULIDTime extracts the timestamp encoded in a ULID.
func ULIDTime(ulid string) (time.Time, error) {
	if !IsValidULID(ulid) {
		return time.Time{}, fmt.Errorf("invalid ULID: %s", ulid)
	}

	var ms int64
	for i := 0; i < ulidTimeLen; i++ {
		ms = ms<<5 | int64(decodeULIDChar(ulid[i]))
	}
	return time.UnixMilli(ms), nil
}

func decodeULIDChar(c byte) int {
	for i := 0; i < len(ulidEncoding); i++ {
		if ulidEncoding[i] == c {
			return i
		}
	}
	return -1
}
