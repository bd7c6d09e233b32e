// Package vector implements the similarity index: binary trees of token
// nodes partitioned by the cosine similarity of character-derived vectors,
// and the process-wide registry through which built trees are published.
package vector

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/viterin/vek/vek32"
)

const (
	// Dimensions is the length of every token vector.
	Dimensions = 256

	// IdenticalAngle is the similarity at or above which two tokens are
	// treated as the same node.
	IdenticalAngle = 0.97

	// FoldAngle splits the remaining range: more similar goes left.
	FoldAngle = 0.55

	runeWeight   = 1
	bigramWeight = 2
	boundary     = '\x00'
)

// Vector is a unit-length (or empty) token representation.
type Vector []float32

// FromToken derives a token's vector from its lower-cased runes and its
// boundary-padded rune bigrams, hashed into Dimensions buckets and
// L2-normalised. An empty token yields a nil vector.
func FromToken(token string) Vector {
	if token == "" {
		return nil
	}
	token = strings.ToLower(token)
	v := make(Vector, Dimensions)
	var buf [2 * utf8.UTFMax]byte
	prev := rune(boundary)
	for _, r := range token {
		n := utf8.EncodeRune(buf[:], r)
		v[bucket(buf[:n])] += runeWeight
		v.addBigram(prev, r, buf[:])
		prev = r
	}
	v.addBigram(prev, boundary, buf[:])

	norm := float32(math.Sqrt(float64(vek32.Dot(v, v))))
	if norm == 0 {
		return nil
	}
	vek32.MulNumber_Inplace(v, 1/norm)
	return v
}

func (v Vector) addBigram(a, b rune, buf []byte) {
	n := utf8.EncodeRune(buf, a)
	n += utf8.EncodeRune(buf[n:], b)
	v[bucket(buf[:n])] += bigramWeight
}

func bucket(feature []byte) uint64 {
	return xxhash.Sum64(feature) % Dimensions
}

// Similarity is the cosine of two unit vectors clamped to [0,1]. Either
// vector being empty gives 0.
func Similarity(a, b Vector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	s := float64(vek32.Dot(a, b))
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
