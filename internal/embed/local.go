package embed

import (
	"crypto/sha1" //nolint:gosec // bucket hashing, not security
	"math"
	"math/big"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// LocalEmbedding is the deterministic fallback vector: every lowercase
// alphanumeric token increments the bucket SHA-1(token) mod dim, and the
// result is L2-normalized. Text without tokens yields the zero vector.
func LocalEmbedding(text string, dim int) []float32 {
	if dim <= 0 {
		return nil
	}
	counts := make([]float64, dim)
	mod := big.NewInt(int64(dim))
	var h, idx big.Int
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		sum := sha1.Sum([]byte(tok)) //nolint:gosec
		h.SetBytes(sum[:])
		idx.Mod(&h, mod)
		counts[idx.Int64()]++
	}

	var sq float64
	for _, v := range counts {
		sq += v * v
	}
	norm := math.Sqrt(sq)
	if norm == 0 {
		norm = 1
	}

	out := make([]float32, dim)
	for i, v := range counts {
		out[i] = float32(v / norm)
	}
	return out
}
