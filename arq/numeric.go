package arq

// timediff compares two 32-bit wrapping counters (sn, ts, una) using
// signed wraparound subtraction: a is "after" b iff timediff(a,b) > 0.
// Every sn/ts/una comparison in this package goes through this helper;
// a direct unsigned comparison would break once a counter wraps past
// 2^32. The signed form stays correct across the wrap while the two
// values are less than 2^31 apart (about 24.8 days of a 1 ms clock).
func timediff(a, b uint32) int32 {
	return int32(a - b)
}

func imin32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func imax32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func bound32(lower, v, upper uint32) uint32 {
	return imin32(imax32(lower, v), upper)
}
