package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMath_MinMax(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(2, Min(2, 5))
	assert.Equal(2, Min(5, 2))
	assert.Equal(5, Max(2, 5))
	assert.Equal(0.5, Max(-1.0, 0.5))
	assert.Equal(3, Abs(-3))
	assert.Equal(1.5, Abs(1.5))
}

func TestMath_Clamp(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(0, Clamp(-4, 0, 10))
	assert.Equal(10, Clamp(42, 0, 10))
	assert.Equal(7, Clamp(7, 0, 10))
	assert.True(Contains([]string{"relu", "silu"}, "silu"))
	assert.False(Contains([]string{"relu", "silu"}, "gelu"))
}
