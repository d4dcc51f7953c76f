package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeqNormalizerContiguousChain(t *testing.T) {
	var n SeqNormalizer

	base := n.Snapshot(1000)
	seq, action := n.Delta(1000, 1005)
	assert.Equal(t, SeqApply, action)
	assert.Equal(t, base+1, seq, "chained delta is contiguous")

	seq2, action := n.Delta(1005, 1006)
	assert.Equal(t, SeqApply, action)
	assert.Equal(t, seq+1, seq2)
}

func TestSeqNormalizerBrokenChainEmitsGap(t *testing.T) {
	var n SeqNormalizer
	base := n.Snapshot(1000)

	seq, action := n.Delta(1003, 1010) // prev does not match
	assert.Equal(t, SeqGap, action)
	assert.Equal(t, base+2, seq, "gap skips a sequence number")

	// everything after a break is dropped until the next snapshot
	_, action = n.Delta(1010, 1011)
	assert.Equal(t, SeqDrop, action)

	rebase := n.Snapshot(2000)
	seq, action = n.Delta(2000, 2001)
	assert.Equal(t, SeqApply, action)
	assert.Equal(t, rebase+1, seq)
}

func TestSeqNormalizerDropsStaleAndPreSync(t *testing.T) {
	var n SeqNormalizer
	_, action := n.Delta(0, 1)
	assert.Equal(t, SeqDrop, action, "deltas before the first snapshot are dropped")

	n.Snapshot(1000)
	_, action = n.Delta(999, 1000)
	assert.Equal(t, SeqDrop, action, "deltas at or before the base are dropped")

	n.Invalidate()
	_, action = n.Delta(1000, 1001)
	assert.Equal(t, SeqDrop, action)
}
