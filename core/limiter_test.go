package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundBudget(t *testing.T) {
	b := NewRoundBudget(2)
	assert.Equal(t, 2, b.Remaining())
	assert.True(t, b.Take())
	assert.False(t, b.Exhausted())
	assert.True(t, b.Take())
	assert.True(t, b.Exhausted())
	assert.False(t, b.Take())
	assert.Equal(t, 2, b.Count())
	assert.Equal(t, 0, b.Remaining())
}

func TestRoundBudget_Unlimited(t *testing.T) {
	b := NewRoundBudget(0)
	for i := 0; i < 50; i++ {
		assert.True(t, b.Take())
	}
	assert.False(t, b.Exhausted())
	assert.Equal(t, -1, b.Remaining())
}
