// Package seq implements wraparound-aware comparisons for the 16-bit
// sequence numbers used to index packets and messages throughout this
// module.
package seq

// GreaterThan reports whether a is "later" than b in a 16-bit wrapping
// sequence space. This defines a total order on any window <= 32768
// sequence numbers wide.
func GreaterThan(a, b uint16) bool {
	return (a > b && a-b <= 32768) || (a < b && b-a > 32768)
}

// LessThan is the complement of GreaterThan for distinct a, b.
func LessThan(a, b uint16) bool {
	return GreaterThan(b, a)
}

// Diff returns a - b as a signed distance in the wrapping sequence
// space, positive when a is ahead of b.
func Diff(a, b uint16) int {
	d := int(a) - int(b)
	switch {
	case d > 32768:
		d -= 65536
	case d < -32768:
		d += 65536
	}
	return d
}
