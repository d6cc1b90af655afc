// Package engine 存储引擎门面
// 组装磁盘、缓冲池、重做日志、catalog和锁管理器，对外提供表级操作入口
package engine

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xheap-surgery/logger"
	"github.com/zhukovaskychina/xheap-surgery/server/conf"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/buffer"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/catalog"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/disk"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/lock"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/redo"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/txid"
)

// redo日志缓冲区条数
const redoBufferSize = 64

// Session 当前会话的用户信息
type Session struct {
	UserID    uint32
	Superuser bool
}

// Engine 存储引擎实例
type Engine struct {
	cfg   *conf.Cfg
	cat   *catalog.Catalog
	dm    *disk.Manager
	pool  *buffer.Pool
	redo  *redo.Manager
	locks *lock.Manager

	mu       sync.Mutex
	nextTxID txid.TxID

	// recoveryInProgress 重做日志回放期间置位，期间禁止行修复操作
	recoveryInProgress atomic.Bool

	sessionMu sync.RWMutex
	session   Session
}

// Open 打开存储引擎并回放重做日志
func Open(cfg *conf.Cfg) (*Engine, error) {
	dm, err := disk.NewManager(cfg.DataDir)
	if err != nil {
		return nil, errors.Trace(err)
	}
	cat, err := catalog.Open(filepath.Join(cfg.DataDir, "catalog.ini"))
	if err != nil {
		dm.Close()
		return nil, errors.Trace(err)
	}
	rm, err := redo.NewManager(cfg.RedoDir, redoBufferSize)
	if err != nil {
		dm.Close()
		return nil, errors.Trace(err)
	}

	e := &Engine{
		cfg:      cfg,
		cat:      cat,
		dm:       dm,
		pool:     buffer.NewPool(dm, cfg.BufferPoolPages),
		redo:     rm,
		locks:    lock.NewManager(),
		nextTxID: txid.FirstNormal,
		session: Session{
			UserID:    cfg.UserID,
			Superuser: cfg.Superuser,
		},
	}

	if err := e.Recover(); err != nil {
		e.Close()
		return nil, errors.Trace(err)
	}
	return e, nil
}

// Recover 回放重做日志，把整页镜像写回数据文件
// 回放窗口内RecoveryInProgress为真
func (e *Engine) Recover() error {
	e.recoveryInProgress.Store(true)
	defer e.recoveryInProgress.Store(false)

	count := 0
	err := e.redo.Replay(func(rec *redo.Record) error {
		count++
		return e.dm.WritePage(rec.RelID, rec.Fork, rec.PageNo, rec.Image)
	})
	if err != nil {
		return errors.Annotate(err, "replay redo log")
	}
	if count > 0 {
		if err := e.dm.SyncAll(); err != nil {
			return errors.Trace(err)
		}
		logger.Infof("recovery replayed %d redo records, flushed lsn %d", count, e.redo.FlushedLSN())
	}
	return nil
}

// RecoveryInProgress 引擎是否正在回放重做日志
func (e *Engine) RecoveryInProgress() bool {
	return e.recoveryInProgress.Load()
}

// SetRecoveryInProgress 备机回放窗口的控制入口
// 正常恢复流程由Recover自行管理，这里留给复制/备机模式使用
func (e *Engine) SetRecoveryInProgress(v bool) {
	e.recoveryInProgress.Store(v)
}

// CurrentUser 返回当前会话用户
func (e *Engine) CurrentUser() Session {
	e.sessionMu.RLock()
	defer e.sessionMu.RUnlock()
	return e.session
}

// SetSessionUser 切换当前会话用户
func (e *Engine) SetSessionUser(userID uint32, superuser bool) {
	e.sessionMu.Lock()
	e.session = Session{UserID: userID, Superuser: superuser}
	e.sessionMu.Unlock()
}

// CreateRelation 建表，owner为当前会话用户
func (e *Engine) CreateRelation(name string, kind catalog.RelKind, persistence catalog.Persistence) (*catalog.Relation, error) {
	rel, err := e.cat.Create(name, kind, e.CurrentUser().UserID, persistence)
	if err != nil {
		return nil, errors.Trace(err)
	}
	logger.Infof("created relation %q id=%d kind=%s persistence=%s", name, rel.ID, kind, persistence)
	return rel, nil
}

// OpenRelation 按名称打开表并获取表锁
// 调用方处理完后必须用CloseRelation释放同一模式的锁
func (e *Engine) OpenRelation(ctx context.Context, name string, mode lock.Mode) (*catalog.Relation, error) {
	rel, ok := e.cat.Get(name)
	if !ok {
		return nil, errors.NotFoundf("relation %q", name)
	}
	if err := e.locks.Acquire(ctx, rel.ID, mode); err != nil {
		return nil, errors.Annotatef(err, "lock relation %q %s", name, mode)
	}
	return rel, nil
}

// CloseRelation 释放表锁
func (e *Engine) CloseRelation(rel *catalog.Relation, mode lock.Mode) {
	e.locks.Release(rel.ID, mode)
}

// NBlocks 返回表主fork当前的页面数
func (e *Engine) NBlocks(rel *catalog.Relation) (uint32, error) {
	return e.dm.NBlocks(rel.ID, disk.ForkMain)
}

// Pool 返回共享缓冲池
func (e *Engine) Pool() *buffer.Pool {
	return e.pool
}

// DiskManager 返回页面文件管理器
func (e *Engine) DiskManager() *disk.Manager {
	return e.dm
}

// RedoManager 返回重做日志管理器
func (e *Engine) RedoManager() *redo.Manager {
	return e.redo
}

// allocTxID 分配一个事务ID
// 计数器不持久化：可见性判断只依赖提示位和冻结哨兵，重启后复用无害
func (e *Engine) allocTxID() txid.TxID {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextTxID
	e.nextTxID++
	return id
}

// Close 刷脏页并关闭引擎
func (e *Engine) Close() error {
	var firstErr error
	if err := e.pool.FlushAll(); err != nil {
		firstErr = err
	}
	if err := e.dm.SyncAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.redo.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.dm.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return errors.Trace(firstErr)
}
