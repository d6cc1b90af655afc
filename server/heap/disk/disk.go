// Package disk 管理表文件的页面读写
// 每个表按fork拆成独立文件: <relID>.main 存数据页，<relID>.vm 存可见性摘要页
package disk

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xheap-surgery/server/heap/page"
)

// ForkNumber 表文件的fork编号
type ForkNumber int

const (
	// ForkMain 主数据fork
	ForkMain ForkNumber = iota
	// ForkVM 可见性摘要fork
	ForkVM
)

func (f ForkNumber) suffix() string {
	if f == ForkVM {
		return "vm"
	}
	return "main"
}

// ErrChecksum 页面校验和不匹配
var ErrChecksum = errors.New("page checksum mismatch")

type fileKey struct {
	relID uint32
	fork  ForkNumber
}

// Manager 页面文件管理器，按需打开fork文件并缓存句柄
type Manager struct {
	mu    sync.Mutex
	dir   string
	files map[fileKey]*os.File
}

// NewManager 创建文件管理器，目录不存在时自动创建
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create data dir %s", dir)
	}
	return &Manager{
		dir:   dir,
		files: make(map[fileKey]*os.File),
	}, nil
}

func (m *Manager) file(relID uint32, fork ForkNumber) (*os.File, error) {
	key := fileKey{relID: relID, fork: fork}
	if f, ok := m.files[key]; ok {
		return f, nil
	}
	path := filepath.Join(m.dir, fmt.Sprintf("%d.%s", relID, fork.suffix()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open fork file %s", path)
	}
	m.files[key] = f
	return f, nil
}

// ReadPage 读取一个页面到p，校验和不匹配时返回ErrChecksum
func (m *Manager) ReadPage(relID uint32, fork ForkNumber, pageNo uint32, p page.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.file(relID, fork)
	if err != nil {
		return err
	}
	if _, err := f.ReadAt(p, int64(pageNo)*page.Size); err != nil {
		return errors.Wrapf(err, "read page %d of rel %d fork %s", pageNo, relID, fork.suffix())
	}
	// 新扩展的全零页面还没有校验和
	if p.IsInitialized() && !p.VerifyChecksum() {
		return errors.Wrapf(ErrChecksum, "page %d of rel %d fork %s", pageNo, relID, fork.suffix())
	}
	return nil
}

// WritePage 写回一个页面，落盘前重算校验和
func (m *Manager) WritePage(relID uint32, fork ForkNumber, pageNo uint32, p page.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.file(relID, fork)
	if err != nil {
		return err
	}
	p.UpdateChecksum()
	if _, err := f.WriteAt(p, int64(pageNo)*page.Size); err != nil {
		return errors.Wrapf(err, "write page %d of rel %d fork %s", pageNo, relID, fork.suffix())
	}
	return nil
}

// NBlocks 返回fork当前的页面数
func (m *Manager) NBlocks(relID uint32, fork ForkNumber) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.file(relID, fork)
	if err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "stat rel %d fork %s", relID, fork.suffix())
	}
	return uint32(info.Size() / page.Size), nil
}

// Extend 在fork末尾追加一个全零页面，返回新页面号
func (m *Manager) Extend(relID uint32, fork ForkNumber) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.file(relID, fork)
	if err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "stat rel %d fork %s", relID, fork.suffix())
	}
	pageNo := uint32(info.Size() / page.Size)
	zero := make([]byte, page.Size)
	if _, err := f.WriteAt(zero, info.Size()); err != nil {
		return 0, errors.Wrapf(err, "extend rel %d fork %s", relID, fork.suffix())
	}
	return pageNo, nil
}

// Sync 将fork文件刷到磁盘
func (m *Manager) Sync(relID uint32, fork ForkNumber) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fileKey{relID: relID, fork: fork}
	f, ok := m.files[key]
	if !ok {
		return nil
	}
	return errors.Wrapf(f.Sync(), "sync rel %d fork %s", relID, fork.suffix())
}

// SyncAll 刷所有已打开的fork文件
func (m *Manager) SyncAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, f := range m.files {
		if err := f.Sync(); err != nil {
			return errors.Wrapf(err, "sync rel %d fork %s", key.relID, key.fork.suffix())
		}
	}
	return nil
}

// Close 关闭所有文件句柄
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for key, f := range m.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "close rel %d fork %s", key.relID, key.fork.suffix())
		}
		delete(m.files, key)
	}
	return firstErr
}
