package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunksStall(t *testing.T) {
	tests := []struct {
		name           string
		capacity, w, r int
		stalls         bool
	}{
		{"demo sizes", 1024, 256, 1024, false},
		{"equal chunks", 1000, 1000, 1000, false},
		{"reader smaller", 16, 6, 4, false},
		{"coprime but roomy", 10, 4, 6, false},
		{"write 300 read 1024", 1024, 300, 1024, true},
		{"write 6 read 16", 16, 6, 16, true},
		{"write 333 read 1000", 1000, 333, 1000, true},
		{"chunk above capacity", 8, 4, 9, true},
		{"zero chunk", 8, 0, 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.stalls, ChunksStall(tt.capacity, tt.w, tt.r))
		})
	}
}
