package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashString(t *testing.T) {
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", HashString("hello"))
}

func TestQueryKeyNormalizes(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{"case", "How do I resize EC2?", "how do i resize ec2?"},
		{"outer whitespace", "  how do i resize ec2?\n", "how do i resize ec2?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, QueryKey(tt.a), QueryKey(tt.b))
		})
	}

	assert.NotEqual(t, QueryKey("resize ec2"), QueryKey("resize  ec2 instance"))
}
