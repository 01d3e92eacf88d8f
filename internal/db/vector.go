package db

import (
	"strconv"
	"strings"
)

// VectorLiteral renders an embedding in pgvector's text form, e.g. "[0.1,0.2]",
// for use with a $n::vector cast.
func VectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
