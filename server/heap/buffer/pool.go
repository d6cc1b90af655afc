package buffer

import (
	"sync"

	"github.com/zhukovaskychina/xheap-surgery/server/heap/disk"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/page"
)

// Pool 共享缓冲池
type Pool struct {
	mu       sync.Mutex
	dm       *disk.Manager
	buffers  map[Tag]*Buffer
	capacity int
}

// NewPool 创建缓冲池，capacity为最大缓冲页数
func NewPool(dm *disk.Manager, capacity int) *Pool {
	if capacity <= 0 {
		capacity = 128
	}
	return &Pool{
		dm:       dm,
		buffers:  make(map[Tag]*Buffer),
		capacity: capacity,
	}
}

// ReadBuffer 读取并pin一个页面
// 未命中时从磁盘加载，必要时驱逐一个未被pin的缓冲页
// 调用方用完后必须调用Release，或通过UnlockRelease一并释放
func (p *Pool) ReadBuffer(relID uint32, fork disk.ForkNumber, pageNo uint32) (*Buffer, error) {
	tag := Tag{RelID: relID, Fork: fork, PageNo: pageNo}

	for {
		p.mu.Lock()
		if b, ok := p.buffers[tag]; ok {
			b.pin()
			p.mu.Unlock()
			// 装载方持有内容排他锁，这里会等到装载结束
			if !b.waitLoaded() {
				// 命中了装载失败的缓冲，它已被装载方移出缓冲池，重试
				b.unpin()
				continue
			}
			return b, nil
		}

		if len(p.buffers) >= p.capacity {
			if err := p.evictLocked(); err != nil {
				p.mu.Unlock()
				return nil, err
			}
		}

		b := &Buffer{
			tag:  tag,
			pool: p,
			page: make(page.Page, page.Size),
		}
		b.unpinned = sync.NewCond(&b.mu)
		// 先拿内容排他锁再发布，并发命中方在装载完成前拿不到内容锁
		b.content.Lock()
		b.pin()
		p.buffers[tag] = b
		p.mu.Unlock()

		err := p.dm.ReadPage(relID, fork, pageNo, b.page)
		if err != nil {
			p.mu.Lock()
			delete(p.buffers, tag)
			p.mu.Unlock()
			b.content.Unlock()
			b.unpin()
			return nil, err
		}
		b.valid = true
		b.content.Unlock()
		return b, nil
	}
}

// evictLocked 驱逐一个未被pin的缓冲页，脏页先写回
func (p *Pool) evictLocked() error {
	for tag, b := range p.buffers {
		b.mu.Lock()
		pinned := b.pinCount > 0
		dirty := b.dirty
		b.mu.Unlock()
		if pinned {
			continue
		}
		if dirty {
			if err := p.dm.WritePage(tag.RelID, tag.Fork, tag.PageNo, b.page); err != nil {
				return err
			}
		}
		delete(p.buffers, tag)
		return nil
	}
	return ErrNoUnpinnedBuffer
}

// Release 释放pin
func (p *Pool) Release(b *Buffer) {
	b.unpin()
}

// UnlockRelease 释放内容排他锁并释放pin
func (p *Pool) UnlockRelease(b *Buffer) {
	b.Unlock()
	b.unpin()
}

// FlushBuffer 将单个缓冲页写回磁盘并清除脏标记
// 调用方必须保证页面内容此刻无并发写入
func (p *Pool) FlushBuffer(b *Buffer) error {
	b.mu.Lock()
	dirty := b.dirty
	b.mu.Unlock()
	if !dirty {
		return nil
	}
	if err := p.dm.WritePage(b.tag.RelID, b.tag.Fork, b.tag.PageNo, b.page); err != nil {
		return err
	}
	b.mu.Lock()
	b.dirty = false
	b.mu.Unlock()
	return nil
}

// FlushAll 将所有脏页写回磁盘
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	bufs := make([]*Buffer, 0, len(p.buffers))
	for _, b := range p.buffers {
		bufs = append(bufs, b)
	}
	p.mu.Unlock()

	for _, b := range bufs {
		b.content.Lock()
		err := p.FlushBuffer(b)
		b.content.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// DropRelation 丢弃某个表在缓冲池中的全部页面，不写回
// 回放重做日志前调用，保证后续读取拿到磁盘上的最新镜像
func (p *Pool) DropRelation(relID uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for tag := range p.buffers {
		if tag.RelID == relID {
			delete(p.buffers, tag)
		}
	}
}
