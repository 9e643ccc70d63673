package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTiktokenCounter(t *testing.T) {
	c := NewTiktokenCounter()

	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 2, c.Count("hello world"))

	long := strings.Repeat("The instance failed its status check. ", 50)
	assert.Greater(t, c.Count(long), c.Count("The instance failed its status check."))
}

func TestEstimate(t *testing.T) {
	assert.Equal(t, 0, Estimate("abc"))
	assert.Equal(t, 1, Estimate("abcd"))
	assert.Equal(t, 25, EstimateCounter{}.Count(strings.Repeat("x", 100)))
}

func TestCounterWithoutCodecFallsBack(t *testing.T) {
	c := &TiktokenCounter{}
	assert.Equal(t, 3, c.Count("twelve bytes"))
}
