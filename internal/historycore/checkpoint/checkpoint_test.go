package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextLedger(t *testing.T) {
	f := Frequency(8)
	assert.Equal(t, uint32(8), f.NextLedger(0))
	assert.Equal(t, uint32(8), f.NextLedger(1))
	assert.Equal(t, uint32(8), f.NextLedger(8))
	assert.Equal(t, uint32(16), f.NextLedger(9))
}

func TestPrevLedger(t *testing.T) {
	f := Frequency(8)
	assert.Equal(t, uint32(0), f.PrevLedger(7))
	assert.Equal(t, uint32(8), f.PrevLedger(8))
	assert.Equal(t, uint32(8), f.PrevLedger(15))
	assert.Equal(t, uint32(16), f.PrevLedger(16))
}

func TestContainingLedger(t *testing.T) {
	f := Frequency(8)
	assert.Equal(t, uint32(7), f.ContainingLedger(1))
	assert.Equal(t, uint32(7), f.ContainingLedger(7))
	assert.Equal(t, uint32(15), f.ContainingLedger(8))
}

func TestInvariantsForAllCheckpointAlignedLedgers(t *testing.T) {
	f := Frequency(8)
	for k := uint32(1); k <= 50; k++ {
		boundary := k * uint32(f)
		assert.Equal(t, boundary, f.NextLedger(boundary))
		assert.Equal(t, boundary-1, f.ContainingLedger(boundary-1))
	}
}

func TestGenesisCheckpoint(t *testing.T) {
	f := Frequency(8)
	assert.True(t, f.IsGenesis(7))
	assert.Equal(t, uint32(1), f.FirstLedgerOf(7))
	assert.Equal(t, uint32(8), f.FirstLedgerOf(15))
	assert.Equal(t, uint32(7), f.LastLedgerOf(1))
}

func TestIsCheckpoint(t *testing.T) {
	f := Frequency(8)
	for _, n := range []uint32{7, 15, 23, 31, 39, 47} {
		assert.True(t, f.IsCheckpoint(n), "expected %d to be a checkpoint boundary", n)
	}
	for _, n := range []uint32{0, 1, 5, 8, 16, 40} {
		assert.False(t, f.IsCheckpoint(n), "expected %d not to be a checkpoint boundary", n)
	}
}

func TestFrequencyFromConfig(t *testing.T) {
	assert.Equal(t, AcceleratedFrequency, FrequencyFromConfig(true))
	assert.Equal(t, DefaultFrequency, FrequencyFromConfig(false))
}
