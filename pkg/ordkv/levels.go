package ordkv

import (
	"crypto/rand"
	"encoding/binary"
	"math/rand/v2"
)

// levelSource draws new record levels. Each opened handle gets its own
// generator seeded from crypto/rand (no cryptographic property is required afterward: level
// choice only affects search performance, never correctness) avoids every
// process that opens the same database picking an identical level sequence.
type levelSource struct {
	rnd *rand.Rand
}

func newLevelSource() *levelSource {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		// crypto/rand failing is a platform emergency, not something any
		// caller can recover from sensibly; fall back to a fixed seed so
		// the database still works, just with a deterministic level mix.
		binary.LittleEndian.PutUint64(seed[:8], 0x9E3779B97F4A7C15)
	}

	s1 := binary.LittleEndian.Uint64(seed[0:8])
	s2 := binary.LittleEndian.Uint64(seed[8:16])

	return &levelSource{rnd: rand.New(rand.NewPCG(s1, s2))}
}

// next draws a new record's level (number of extra forward slots beyond
// level-0) using a p=1/4 geometric distribution, capped at maxLevel, per
// spec.md §4.1.
func (s *levelSource) next() int {
	level := 0
	for level < maxLevel && s.rnd.Uint32()&0x3 == 0 {
		level++
	}

	return level
}
