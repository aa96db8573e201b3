// Package bloom implements the bloom-v1 id summary from spec.md §4.3: a
// compact, serializable probabilistic digest used to pre-filter id-diffing
// during sync so the common case (most ids already shared) never needs a
// full id list exchange.
package bloom

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"hash/fnv"
	"math"

	"github.com/mindoo/mindoo-core/internal/types"
)

// Version is the only bloom summary format this package produces. Summaries
// carrying any other version string are treated as opaque by MightContain,
// which conservatively reports true rather than guessing at a format it
// does not understand.
const Version = "bloom-v1"

// falsePositiveRate is fixed by the spec, not configurable per summary.
const falsePositiveRate = 0.01

// sizing returns the bit count and hash count for n inserted ids at the
// fixed false positive rate, per spec.md §4.3:
//
//	bit_count  = max(64, ceil(-n*ln(p) / (ln 2)^2))
//	hash_count = max(1, round((bit_count/n) * ln 2))
func sizing(n int) (bitCount, hashCount int) {
	if n <= 0 {
		n = 1
	}
	raw := -float64(n) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)
	bitCount = int(math.Ceil(raw))
	if bitCount < 64 {
		bitCount = 64
	}
	hashCount = int(math.Round(float64(bitCount) / float64(n) * math.Ln2))
	if hashCount < 1 {
		hashCount = 1
	}
	return bitCount, hashCount
}

// bitset is a simple growable bit array backed by a byte slice.
type bitset []byte

func newBitset(bitCount int) bitset {
	return make(bitset, (bitCount+7)/8)
}

func (b bitset) set(pos int) {
	b[pos/8] |= 1 << uint(pos%8)
}

func (b bitset) get(pos int) bool {
	return b[pos/8]&(1<<uint(pos%8)) != 0
}

// fnv1a hashes s with an FNV-1a base, seeded by salt.
func fnv1a(salt, s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(salt))
	h.Write([]byte(":"))
	h.Write([]byte(s))
	return h.Sum64()
}

// djb2 hashes s with the classic DJB2 constant, seeded by salt at the tail
// so the two hash bases draw on independent bit patterns of the input.
func djb2(s, salt string) uint64 {
	var h uint64 = 5381
	for _, c := range []byte(s) {
		h = h*33 + uint64(c)
	}
	for _, c := range []byte(salt) {
		h = h*33 + uint64(c)
	}
	return h
}

// positions computes the k bit positions for id under enhanced double
// hashing: pos_i = (h1 + i*h2) mod bit_count.
func positions(salt, id string, bitCount, hashCount int) []int {
	h1 := fnv1a(salt, id)
	h2 := djb2(id, salt)
	out := make([]int, hashCount)
	for i := 0; i < hashCount; i++ {
		combined := h1 + uint64(i)*h2
		out[i] = int(combined % uint64(bitCount))
	}
	return out
}

func randomSalt() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Build constructs a fresh bloom-v1 summary over ids.
func Build(ids []string) types.BloomSummary {
	bitCount, hashCount := sizing(len(ids))
	salt := randomSalt()
	bits := newBitset(bitCount)
	for _, id := range ids {
		for _, p := range positions(salt, id, bitCount, hashCount) {
			bits.set(p)
		}
	}
	return types.BloomSummary{
		Version:   Version,
		Bits:      base64.StdEncoding.EncodeToString(bits),
		TotalIDs:  len(ids),
		BitCount:  bitCount,
		HashCount: hashCount,
		Salt:      salt,
	}
}

// MightContain reports whether id may be a member of the set summarized by
// s. False means id is definitely absent; true means probably present (or
// that s is in a format this package does not recognize, in which case it
// conservatively answers true so callers fall back to exchanging full id
// lists rather than skipping ids a newer format might have encoded).
func MightContain(s types.BloomSummary, id string) bool {
	if s.Version != Version {
		return true
	}
	bits, err := base64.StdEncoding.DecodeString(s.Bits)
	if err != nil {
		return true
	}
	if s.BitCount <= 0 || s.HashCount <= 0 {
		return true
	}
	for _, p := range positions(s.Salt, id, s.BitCount, s.HashCount) {
		byteIdx := p / 8
		if byteIdx >= len(bits) {
			return true
		}
		if bits[byteIdx]&(1<<uint(p%8)) == 0 {
			return false
		}
	}
	return true
}

// Add incrementally inserts id into s. When the summary has already
// absorbed twice the id count it was originally sized for, the caller
// should rebuild instead of continuing to add — Add reports this via the
// needsRebuild return so false-positive rates don't silently balloon.
func Add(s types.BloomSummary, id string) (updated types.BloomSummary, needsRebuild bool) {
	if s.Version != Version {
		return s, true
	}
	bits, err := base64.StdEncoding.DecodeString(s.Bits)
	if err != nil || s.BitCount <= 0 || s.HashCount <= 0 {
		return s, true
	}
	bs := bitset(bits)
	for _, p := range positions(s.Salt, id, s.BitCount, s.HashCount) {
		bs.set(p)
	}
	s.Bits = base64.StdEncoding.EncodeToString(bs)
	s.TotalIDs++

	originalCapacity := originalCapacityFor(s.BitCount, s.HashCount)
	needsRebuild = s.TotalIDs > 2*originalCapacity
	return s, needsRebuild
}

// originalCapacityFor inverts sizing(n) to recover the n a given bit/hash
// count was computed for, so Add can detect the 2x-capacity threshold
// without the summary needing to carry its original n explicitly.
func originalCapacityFor(bitCount, hashCount int) int {
	if bitCount <= 64 {
		// Every n up to 6 hits the 64-bit floor, but hash_count =
		// round(64/n * ln 2) still differs per n, so invert that instead.
		capacity := int(math.Round(float64(bitCount) * math.Ln2 / float64(hashCount)))
		if capacity < 1 {
			capacity = 1
		}
		return capacity
	}
	// bitCount ~= ceil(-n*ln(p)/(ln2)^2)  =>  n ~= bitCount * (ln2)^2 / -ln(p)
	n := float64(bitCount) * math.Ln2 * math.Ln2 / -math.Log(falsePositiveRate)
	capacity := int(math.Round(n))
	if capacity < 1 {
		capacity = 1
	}
	return capacity
}

// encodeUint64 returns the big-endian 8-byte encoding of v. Nothing in this
// repository calls it.
func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
