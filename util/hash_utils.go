package util

import (
	"github.com/OneOfOne/xxhash"
)

// 将一个键进行Hash
func HashCode(key []byte) uint64 {
	h := xxhash.New64()
	h.Write(key)
	return h.Sum64()
}

// NewPageHash 返回用于页面/日志校验和的增量Hash
// 校验和统一采用xxhash64，便于跳过页内校验和字段的分段计算
func NewPageHash() *xxhash.XXHash64 {
	return xxhash.New64()
}
