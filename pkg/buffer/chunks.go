package buffer

// ChunksStall reports whether a producer that commits exactly writeChunk
// bytes per reservation and a consumer that reads exactly readChunk bytes
// per reservation can end up both waiting on a buffer of the given capacity.
//
// Occupied space only moves in steps of g = gcd(writeChunk, readChunk). The
// producer blocks once free < writeChunk, leaving occupied in
// (capacity-writeChunk, capacity]. The pair stalls when the smallest multiple
// of g in that range is still below readChunk. Chunks outside (0, capacity]
// always stall.
func ChunksStall(capacity, writeChunk, readChunk int) bool {
	if writeChunk <= 0 || readChunk <= 0 || writeChunk > capacity || readChunk > capacity {
		return true
	}
	g := gcd(writeChunk, readChunk)
	lowest := ((capacity-writeChunk)/g + 1) * g
	return lowest < readChunk
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
