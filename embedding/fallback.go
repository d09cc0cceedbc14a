package embedding

import (
	"crypto/md5"
	"encoding/binary"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// XavierBound is the uniform bound sqrt(6)/sqrt(fanIn+fanOut).
func XavierBound(fanIn, fanOut int) float64 {
	return math.Sqrt(6) / math.Sqrt(float64(fanIn+fanOut))
}

// HashedUniform returns a dim-sized vector drawn from U(-bound, bound). The
// generator is seeded from the MD5 of key so the same key always gets the same
// vector, independent of the order in which keys are visited.
func HashedUniform(key string, dim int, bound float64) []float64 {
	hash := md5.Sum([]byte(key))
	seed := binary.BigEndian.Uint64(hash[:8])
	u := distuv.Uniform{Min: -bound, Max: bound, Src: rand.NewSource(seed)}

	vec := make([]float64, dim)
	for i := range vec {
		vec[i] = u.Rand()
	}
	return vec
}
