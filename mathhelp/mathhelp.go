package mathhelp

import "math/bits"

// FloorPow2 returns the largest power of two that is <= n. n must be > 0.
func FloorPow2(n int) int {
	return 1 << (bits.Len(uint(n)) - 1)
}

func CeilDiv(a, b int) int {
	return (a + b - 1) / b
}
