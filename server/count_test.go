package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountAddLoadResetString(t *testing.T) {
	var c count
	assert.EqualValues(t, 1, c.Add(1))
	assert.EqualValues(t, 3, c.Add(2))
	assert.EqualValues(t, 3, c.Load())
	assert.Equal(t, "3", c.String())

	c.Store(10)
	assert.EqualValues(t, 10, c.Load())

	c.Reset()
	assert.EqualValues(t, 0, c.Load())
}
