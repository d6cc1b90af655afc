// Package buffer 实现共享缓冲池
// 页面在缓冲池内通过pin计数和内容锁协同访问：
//
//	pin        持有者期间页面不会被驱逐
//	内容锁      读写页面内容前必须持有
//	cleanup锁  内容排他锁 + 等待其他pin全部释放，重定义槽位意义时使用
package buffer

import (
	"sync"

	"github.com/zhukovaskychina/xheap-surgery/server/heap/disk"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/page"
)

// Tag 定位一个页面在磁盘上的位置
type Tag struct {
	RelID  uint32
	Fork   disk.ForkNumber
	PageNo uint32
}

// Buffer 一个缓冲页描述符
type Buffer struct {
	tag  Tag
	pool *Pool

	// mu 保护pin计数和脏标记，unpinned在pin释放时广播
	mu       sync.Mutex
	unpinned *sync.Cond
	pinCount int
	dirty    bool

	// content 页面内容锁
	content sync.RWMutex

	// valid 磁盘装载是否已完成，由content锁保护
	// 装载期间持有内容排他锁，命中方在拿到内容锁之前看不到半成品页面
	valid bool

	page page.Page
}

// waitLoaded 等待装载完成，装载失败的缓冲返回false
func (b *Buffer) waitLoaded() bool {
	b.content.RLock()
	ok := b.valid
	b.content.RUnlock()
	return ok
}

// Tag 返回页面位置
func (b *Buffer) Tag() Tag {
	return b.tag
}

// Page 返回页面镜像，调用方必须持有内容锁
func (b *Buffer) Page() page.Page {
	return b.page
}

// Lock 获取内容排他锁
func (b *Buffer) Lock() {
	b.content.Lock()
}

// Unlock 释放内容排他锁
func (b *Buffer) Unlock() {
	b.content.Unlock()
}

// RLock 获取内容共享锁
func (b *Buffer) RLock() {
	b.content.RLock()
}

// RUnlock 释放内容共享锁
func (b *Buffer) RUnlock() {
	b.content.RUnlock()
}

// LockForCleanup 获取cleanup锁
// 先拿内容排他锁，再等待本pin之外的所有pin释放
// 返回后不会有任何并发观察者看到页面的中间状态
func (b *Buffer) LockForCleanup() {
	b.content.Lock()

	b.mu.Lock()
	for b.pinCount > 1 {
		b.unpinned.Wait()
	}
	b.mu.Unlock()
}

// MarkDirty 标记页面为脏，调用方必须持有内容排他锁
func (b *Buffer) MarkDirty() {
	b.mu.Lock()
	b.dirty = true
	b.mu.Unlock()
}

// IsDirty 返回脏标记
func (b *Buffer) IsDirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty
}

func (b *Buffer) pin() {
	b.mu.Lock()
	b.pinCount++
	b.mu.Unlock()
}

func (b *Buffer) unpin() {
	b.mu.Lock()
	if b.pinCount > 0 {
		b.pinCount--
	}
	b.mu.Unlock()
	b.unpinned.Broadcast()
}
