// Package bloomfilter provides a string Bloom filter used as a cheap
// negative prefilter in front of exact set lookups.
//
// A Filter is built once and then shared read-only. Callers that need to
// change membership build a new Filter and swap it in.
package bloomfilter

import (
	"hash/maphash"
	"math"
	"math/bits"
)

var seed = maphash.MakeSeed()

type Filter struct {
	words  []uint64
	nbits  uint64
	hashes uint64
	items  int
}

// New sizes a filter for n items at the target false-positive rate.
func New(n int, fpRate float64) *Filter {
	if n <= 0 {
		n = 1024
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.01
	}

	m := math.Ceil(-float64(n) * math.Log(fpRate) / (math.Ln2 * math.Ln2))
	k := math.Max(1, math.Round(m/float64(n)*math.Ln2))
	nbits := uint64(m)

	return &Filter{
		words:  make([]uint64, (nbits+63)/64),
		nbits:  nbits,
		hashes: uint64(k),
	}
}

// FromStrings builds a filter holding every item.
func FromStrings(items []string, fpRate float64) *Filter {
	f := New(len(items), fpRate)
	for _, it := range items {
		f.Add(it)
	}
	return f
}

// Add must not be called once the filter is shared.
func (f *Filter) Add(item string) {
	h1, h2 := split(maphash.String(seed, item))
	for i := uint64(0); i < f.hashes; i++ {
		pos := (h1 + i*h2) % f.nbits
		f.words[pos>>6] |= 1 << (pos & 63)
	}
	f.items++
}

// MayContain is false only if item was never added.
func (f *Filter) MayContain(item string) bool {
	if f == nil || f.items == 0 {
		return false
	}
	h1, h2 := split(maphash.String(seed, item))
	for i := uint64(0); i < f.hashes; i++ {
		pos := (h1 + i*h2) % f.nbits
		if f.words[pos>>6]&(1<<(pos&63)) == 0 {
			return false
		}
	}
	return true
}

func (f *Filter) Len() int {
	return f.items
}

// Saturation is the share of bits set.
func (f *Filter) Saturation() float64 {
	set := 0
	for _, w := range f.words {
		set += bits.OnesCount64(w)
	}
	return float64(set) / float64(f.nbits)
}

// split derives two hash values from one 64-bit hash; h2 is forced odd so the
// probe sequence cycles through distinct positions.
func split(sum uint64) (uint64, uint64) {
	return sum, bits.RotateLeft64(sum, 32) | 1
}
