// Package util contains misc internal utilities.
package util

// Limiter is an inclusive floating point range
type Limiter struct {
	Min float64
	Max float64
}

// Contains returns true if f is within the limiter's range
func (l Limiter) Contains(f float64) bool {
	return f >= l.Min && f <= l.Max
}

// GetBit returns the value of a given bit in a word
func GetBit(w uint16, bitIndex uint) bool {
	return (w>>bitIndex)&1 == 1
}

// SetBit returns w with the given bit set to value
func SetBit(w uint16, bitIndex uint, value bool) uint16 {
	if value {
		return w | (1 << bitIndex)
	}
	return w &^ (1 << bitIndex)
}
