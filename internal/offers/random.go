package offers

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"time"
)

// NewRand returns a PCG source seeded from crypto/rand. Each generation run gets its own
// source so runs never share mutable random state.
func NewRand() *rand.Rand {
	var b [16]byte
	if _, err := crand.Read(b[:]); err != nil {
		n := uint64(time.Now().UnixNano())
		return rand.New(rand.NewPCG(n, n>>1))
	}
	return rand.New(rand.NewPCG(binary.LittleEndian.Uint64(b[:8]), binary.LittleEndian.Uint64(b[8:])))
}

// Seeded returns a deterministic source for tests and replays.
func Seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
