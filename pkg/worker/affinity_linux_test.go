//go:build linux

package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNiceValueRange(t *testing.T) {
	assert.Equal(t, 19, niceValue(1))
	assert.Equal(t, 0, niceValue(128))
	assert.Equal(t, -20, niceValue(255))

	prev := niceValue(1)
	for p := 2; p <= 255; p++ {
		v := niceValue(uint8(p))
		assert.LessOrEqual(t, v, prev, "priority %d", p)
		prev = v
	}
}
