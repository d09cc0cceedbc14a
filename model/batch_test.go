package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPadSequences(t *testing.T) {
	got := PadSequences([][]int{{3, 1}, {4, 1, 5, 9}, {}}, 0)
	assert.Equal(t, [][]int{
		{3, 1, 0, 0},
		{4, 1, 5, 9},
		{0, 0, 0, 0},
	}, got)

	got = PadSequences([][]int{{7}}, 3)
	assert.Equal(t, [][]int{{7, 0, 0}}, got)
}

func TestMultiHot(t *testing.T) {
	assert.Equal(t, []float64{0, 1, 0, 1}, MultiHot([]int{1, 3, 3}, 4))
	assert.Equal(t, []float64{0, 0}, MultiHot([]int{-1, 5}, 2))
}

func TestBatchPositives(t *testing.T) {
	b := testBatch()
	assert.Equal(t, []int{0, 2}, b.positives(0))
	assert.Equal(t, []int{1}, b.positives(1))
	assert.Equal(t, []int{2, 1}, b.column(2))
	assert.Equal(t, 2, b.Size())
	assert.Equal(t, 5, b.Len())
}
