package buffer

import "errors"

var (
	// ErrNoUnpinnedBuffer 缓冲池已满且所有页面都被pin
	ErrNoUnpinnedBuffer = errors.New("buffer pool is full and all buffers are pinned")
)
