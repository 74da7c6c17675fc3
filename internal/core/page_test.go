package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampPage(t *testing.T) {
	assert.Equal(t, 1, ClampPage(0, 10))
	assert.Equal(t, 1, ClampPage(-4, 10))
	assert.Equal(t, 7, ClampPage(7, 10))
	assert.Equal(t, math.MaxInt32/100, ClampPage(math.MaxInt, 100))
	assert.LessOrEqual(t, (ClampPage(math.MaxInt, 100)-1)*100, math.MaxInt32)
}
