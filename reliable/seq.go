package reliable

// SequenceNumber is a 16-bit sequence id used for both message ids and
// packet ids. It wraps around modulo 1<<16, the same way the teacher's
// rudp.seqnum wraps (rudp starts its counters at 65500 specifically to
// exercise the wraparound boundary early).
type SequenceNumber uint16

// lessThan reports whether a comes strictly before b under 16-bit
// wraparound ordering: (b-a) mod 2^16 lies in (0, 2^15).
func lessThan(a, b SequenceNumber) bool {
	return SequenceNumber(b-a) > 0 && SequenceNumber(b-a) < 0x8000
}

// greaterThan reports whether a comes strictly after b under wraparound.
func greaterThan(a, b SequenceNumber) bool {
	return lessThan(b, a)
}

// LessThan exposes the wraparound comparison used throughout the package.
func LessThan(a, b SequenceNumber) bool { return lessThan(a, b) }

// GreaterThan exposes the wraparound comparison used throughout the package.
func GreaterThan(a, b SequenceNumber) bool { return greaterThan(a, b) }

// diff returns (b - a) as an unsigned 16-bit distance, i.e. how many steps
// forward from a to reach b under wraparound. It does not itself decide
// order; callers compare the result against 0x8000 when that matters.
func diff(a, b SequenceNumber) uint16 {
	return uint16(b - a)
}
