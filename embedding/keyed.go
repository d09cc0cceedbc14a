package embedding

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// KeyedVectors holds one vector per key, e.g. a trained code embedding keyed
// by ICD code.
type KeyedVectors struct {
	dim  int
	vecs map[string][]float64
}

// NewKeyedVectors creates an empty set of dim-sized vectors.
func NewKeyedVectors(dim int) *KeyedVectors {
	return &KeyedVectors{dim: dim, vecs: make(map[string][]float64)}
}

func (kv *KeyedVectors) Dim() int { return kv.dim }

func (kv *KeyedVectors) Len() int { return len(kv.vecs) }

// Set stores a copy of v under key.
func (kv *KeyedVectors) Set(key string, v []float64) error {
	if len(v) != kv.dim {
		return errors.Wrapf(ErrMalformed, "vector for %q has %d values, want %d", key, len(v), kv.dim)
	}
	cp := make([]float64, len(v))
	copy(cp, v)
	kv.vecs[key] = cp
	return nil
}

// Get returns the vector for key. The slice must not be modified.
func (kv *KeyedVectors) Get(key string) ([]float64, bool) {
	v, ok := kv.vecs[key]
	return v, ok
}

// LoadWord2Vec reads a file in the word2vec "count dim" format, either as
// text or in the binary float32 layout.
func LoadWord2Vec(path string, binaryFormat bool) (*KeyedVectors, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open code vectors")
	}
	defer f.Close()

	r := bufio.NewReader(f)
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, errors.Wrapf(ErrMalformed, "%s: missing header", path)
	}
	fields := strings.Fields(header)
	if !isHeader(fields) {
		return nil, errors.Wrapf(ErrMalformed, "%s: bad header %q", path, strings.TrimSpace(header))
	}
	count, _ := strconv.Atoi(fields[0])
	dim, _ := strconv.Atoi(fields[1])

	kv := NewKeyedVectors(dim)
	if binaryFormat {
		err = readBinary(r, kv, count)
	} else {
		err = readText(r, kv)
	}
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return kv, nil
}

func readText(r *bufio.Reader, kv *KeyedVectors) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<24)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		vec, err := parseFloats(fields[1:])
		if err != nil {
			return errors.Wrapf(ErrMalformed, "key %q: %v", fields[0], err)
		}
		if err := kv.Set(fields[0], vec); err != nil {
			return err
		}
	}
	return sc.Err()
}

func readBinary(r *bufio.Reader, kv *KeyedVectors, count int) error {
	buf := make([]byte, 4*kv.dim)
	for i := 0; i < count; i++ {
		key, err := r.ReadString(' ')
		if err != nil {
			return errors.Wrapf(ErrMalformed, "entry %d: %v", i, err)
		}
		key = strings.TrimSpace(key)
		if _, err := io.ReadFull(r, buf); err != nil {
			return errors.Wrapf(ErrMalformed, "entry %d (%s): %v", i, key, err)
		}
		vec := make([]float64, kv.dim)
		for j := range vec {
			vec[j] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4*j:])))
		}
		if err := kv.Set(key, vec); err != nil {
			return err
		}
	}
	return nil
}
