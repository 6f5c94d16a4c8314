// Package labels maps classifier output indices to characters.
//
// The alphabet is the 62-class EMNIST "byclass" split: digits, then
// uppercase, then lowercase letters.
package labels

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Size is the number of classes the classifier emits
const Size = 62

const (
	digits    = 10
	uppercase = 26
)

// IndexToChar decodes a class index. Indices outside [0, Size) are a
// programming error and panic.
func IndexToChar(index int) rune {
	switch {
	case index < 0 || index >= Size:
		panic(fmt.Sprintf("labels: index %d out of range [0,%d)", index, Size))
	case index < digits:
		return rune('0' + index)
	case index < digits+uppercase:
		return rune('A' + index - digits)
	default:
		return rune('a' + index - digits - uppercase)
	}
}

// CharToIndex is the inverse of IndexToChar
func CharToIndex(r rune) (int, bool) {
	switch {
	case r >= '0' && r <= '9':
		return int(r - '0'), true
	case r >= 'A' && r <= 'Z':
		return digits + int(r-'A'), true
	case r >= 'a' && r <= 'z':
		return digits + uppercase + int(r-'a'), true
	}
	return 0, false
}

// Class names the range an index falls in: "digit", "upper" or "lower"
func Class(index int) string {
	switch {
	case index < digits:
		return "digit"
	case index < digits+uppercase:
		return "upper"
	default:
		return "lower"
	}
}

// ArgMax returns the index and value of the largest probability.
// The first maximum wins on ties. probs must not be empty.
func ArgMax(probs []float32) (int, float32) {
	wide := make([]float64, len(probs))
	for i, p := range probs {
		wide[i] = float64(p)
	}
	i := floats.MaxIdx(wide)
	return i, probs[i]
}

// Alphabet returns every character in index order
func Alphabet() string {
	out := make([]rune, Size)
	for i := range out {
		out[i] = IndexToChar(i)
	}
	return string(out)
}
