package sim

import (
	"encoding/binary"
	"math/rand/v2"

	"github.com/pkg/errors"
)

// Random is the simulation's only source of randomness. Its state is part
// of save games so a reloaded game draws the same sequence.
type Random struct {
	seed uint64
	src  *rand.PCG
	rnd  *rand.Rand
}

func NewRandom(seed uint64) *Random {
	src := rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)
	return &Random{
		seed: seed,
		src:  src,
		rnd:  rand.New(src),
	}
}

// InitialSeed is the seed the generator was created with.
func (r *Random) InitialSeed() uint64 {
	return r.seed
}

// IntN returns a value in [0,n). n <= 0 returns 0.
func (r *Random) IntN(n int32) int32 {
	if n <= 0 {
		return 0
	}
	return r.rnd.Int32N(n)
}

// Seed folds the current generator state into 32 bits. Peers compare it to
// detect divergence.
func (r *Random) Seed() uint32 {
	hi, lo := r.words()
	x := hi ^ lo
	return uint32(x) ^ uint32(x>>32)
}

func (r *Random) words() (uint64, uint64) {
	b, _ := r.src.MarshalBinary()
	// "pcg:" + hi + lo, big endian
	b = b[len(b)-16:]
	return binary.BigEndian.Uint64(b[:8]), binary.BigEndian.Uint64(b[8:])
}

// State returns the full generator state as four 32 bit words.
func (r *Random) State() []uint32 {
	hi, lo := r.words()
	return []uint32{uint32(hi >> 32), uint32(hi), uint32(lo >> 32), uint32(lo)}
}

// SetState restores a state produced by State.
func (r *Random) SetState(seed uint64, state []uint32) error {
	if 4 != len(state) {
		return errors.Errorf("random state has %d words, want 4", len(state))
	}
	b := make([]byte, 0, 20)
	b = append(b, "pcg:"...)
	b = binary.BigEndian.AppendUint32(b, state[0])
	b = binary.BigEndian.AppendUint32(b, state[1])
	b = binary.BigEndian.AppendUint32(b, state[2])
	b = binary.BigEndian.AppendUint32(b, state[3])
	if err := r.src.UnmarshalBinary(b); nil != err {
		return errors.Wrap(err, "restore random state")
	}
	r.seed = seed
	return nil
}
