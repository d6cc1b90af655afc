// Package lock 表级锁管理器
package lock

import (
	"context"
	"sync"
)

// Mode 表锁模式
type Mode int

const (
	// RowExclusive 行级写入意向锁，互相兼容，与AccessExclusive冲突
	// 允许并发读和不冲突的写，排斥并发DDL和删表
	RowExclusive Mode = iota
	// AccessExclusive 排他锁，DDL/删表使用，与一切模式冲突
	AccessExclusive
)

func (m Mode) String() string {
	if m == AccessExclusive {
		return "ACCESS EXCLUSIVE"
	}
	return "ROW EXCLUSIVE"
}

// Conflicts 判断两个锁模式是否冲突
func (m Mode) Conflicts(other Mode) bool {
	return m == AccessExclusive || other == AccessExclusive
}

// 单个表的锁状态
type relLock struct {
	mu      sync.Mutex
	granted *sync.Cond
	holders map[Mode]int
}

func (rl *relLock) conflictsWith(mode Mode) bool {
	for held, n := range rl.holders {
		if n > 0 && mode.Conflicts(held) {
			return true
		}
	}
	return false
}

// Manager 表级锁管理器
type Manager struct {
	mu    sync.Mutex
	locks map[uint32]*relLock
}

// NewManager 创建锁管理器
func NewManager() *Manager {
	return &Manager{
		locks: make(map[uint32]*relLock),
	}
}

func (m *Manager) relLock(relID uint32) *relLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	rl, ok := m.locks[relID]
	if !ok {
		rl = &relLock{holders: make(map[Mode]int)}
		rl.granted = sync.NewCond(&rl.mu)
		m.locks[relID] = rl
	}
	return rl
}

// Acquire 获取表锁，冲突时阻塞直到可用或ctx取消
func (m *Manager) Acquire(ctx context.Context, relID uint32, mode Mode) error {
	rl := m.relLock(relID)

	// ctx取消时唤醒等待者
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			rl.mu.Lock()
			rl.granted.Broadcast()
			rl.mu.Unlock()
		case <-done:
		}
	}()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for rl.conflictsWith(mode) {
		if err := ctx.Err(); err != nil {
			return err
		}
		rl.granted.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	rl.holders[mode]++
	return nil
}

// Release 释放表锁
func (m *Manager) Release(relID uint32, mode Mode) {
	rl := m.relLock(relID)
	rl.mu.Lock()
	if rl.holders[mode] > 0 {
		rl.holders[mode]--
	}
	rl.granted.Broadcast()
	rl.mu.Unlock()
}
