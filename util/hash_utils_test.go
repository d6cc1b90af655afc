package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashCode(t *testing.T) {
	a := HashCode([]byte("788788"))
	b := HashCode([]byte("788789"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, HashCode([]byte("788788")))
}

func TestNewPageHashMatchesHashCode(t *testing.T) {
	data := []byte("page contents")

	// 分段喂入的结果与一次性计算一致
	h := NewPageHash()
	h.Write(data[:4])
	h.Write(data[4:])
	assert.Equal(t, HashCode(data), h.Sum64())
}
