package engine

import (
	"context"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xheap-surgery/server/heap/buffer"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/catalog"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/disk"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/lock"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/page"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/tuple"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/txid"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/vm"
)

// Row 扫描返回的一行
type Row struct {
	TID  tuple.TID
	Data []byte
}

// TupleInfo 一条元组的头部快照，检查修复结果用
type TupleInfo struct {
	Xmin      txid.TxID
	Xmax      txid.TxID
	Xvac      txid.TxID
	Ctid      tuple.TID
	Infomask  uint16
	Infomask2 uint16
}

// InsertTuple 插入一行，返回分配的TID
// 简化的插入路径：元组直接带上已提交提示位，只为修复工具的验证场景服务
func (e *Engine) InsertTuple(ctx context.Context, relName string, data []byte) (tuple.TID, error) {
	rel, err := e.OpenRelation(ctx, relName, lock.RowExclusive)
	if err != nil {
		return tuple.TID{}, errors.Trace(err)
	}
	defer e.CloseRelation(rel, lock.RowExclusive)

	nblocks, err := e.NBlocks(rel)
	if err != nil {
		return tuple.TID{}, errors.Trace(err)
	}

	blk := nblocks
	if nblocks > 0 {
		blk = nblocks - 1
	} else {
		if _, err := e.dm.Extend(rel.ID, disk.ForkMain); err != nil {
			return tuple.TID{}, errors.Trace(err)
		}
		blk = 0
	}

	need := tuple.HeaderSize + len(data)
	for {
		tid, done, err := e.tryInsertAt(rel, blk, need, data)
		if err != nil {
			return tuple.TID{}, errors.Trace(err)
		}
		if done {
			return tid, nil
		}
		// 当前页放不下，扩一页重试
		newBlk, err := e.dm.Extend(rel.ID, disk.ForkMain)
		if err != nil {
			return tuple.TID{}, errors.Trace(err)
		}
		blk = newBlk
	}
}

// tryInsertAt 尝试在指定页面插入，空间不足时返回done=false
func (e *Engine) tryInsertAt(rel *catalog.Relation, blk uint32, need int, data []byte) (tuple.TID, bool, error) {
	buf, err := e.pool.ReadBuffer(rel.ID, disk.ForkMain, blk)
	if err != nil {
		return tuple.TID{}, false, errors.Trace(err)
	}
	buf.Lock()
	p := buf.Page()
	if !p.IsInitialized() {
		p.Init()
	}

	if int(p.FreeSpace()) < need+page.ItemSize {
		e.pool.UnlockRelease(buf)
		return tuple.TID{}, false, nil
	}

	raw := make([]byte, need)
	copy(raw[tuple.HeaderSize:], data)
	offNo, ok := p.AddItem(raw)
	if !ok {
		e.pool.UnlockRelease(buf)
		return tuple.TID{}, false, nil
	}

	tid := tuple.NewTID(blk, offNo)
	h := tuple.HeaderByte(p.Item(p.ItemID(offNo)))
	tuple.InitHeader(h, e.allocTxID(), tid)
	h.SetInfomask(h.Infomask() | tuple.XminCommitted)

	// 新行落在all-visible页上时必须先撤销摘要
	if p.IsAllVisible() {
		if err := e.clearAllVisible(rel, blk, buf); err != nil {
			e.pool.UnlockRelease(buf)
			return tuple.TID{}, false, errors.Trace(err)
		}
	}

	buf.MarkDirty()
	if err := e.logPage(rel, disk.ForkMain, blk, p); err != nil {
		e.pool.UnlockRelease(buf)
		return tuple.TID{}, false, errors.Trace(err)
	}
	e.pool.UnlockRelease(buf)
	return tid, true, nil
}

// clearAllVisible 清除页面all-visible标记及vm摘要位
// 调用方持有数据页内容排他锁
func (e *Engine) clearAllVisible(rel *catalog.Relation, blk uint32, buf *buffer.Buffer) error {
	buf.Page().ClearAllVisible()

	vmBuf, err := vm.Pin(e.pool, e.dm, rel.ID, blk)
	if err != nil {
		return errors.Trace(err)
	}
	vmBuf.Lock()
	vm.Clear(vmBuf.Page(), blk, vm.StatusAllVisible|vm.StatusAllFrozen)
	vmBuf.MarkDirty()
	err = e.logPage(rel, disk.ForkVM, vmBuf.Tag().PageNo, vmBuf.Page())
	e.pool.UnlockRelease(vmBuf)
	return errors.Trace(err)
}

// logPage 为页面追加整页镜像日志并落盘，不需要日志的表直接返回
func (e *Engine) logPage(rel *catalog.Relation, fork disk.ForkNumber, pageNo uint32, p page.Page) error {
	if !rel.NeedsRedo() {
		return nil
	}
	lsn, err := e.redo.AppendPageImage(rel.ID, fork, pageNo, p)
	if err != nil {
		return errors.Trace(err)
	}
	p.SetLSN(lsn)
	return errors.Trace(e.redo.Flush(lsn))
}

// visible 简化的可见性判断：xmin已冻结或带已提交提示，且xmax无效
func visible(h tuple.HeaderByte) bool {
	if h.XminIsFrozen() {
		return h.XmaxIsInvalid()
	}
	return h.XminIsCommitted() && h.XmaxIsInvalid()
}

// ScanVisible 全表扫描，只返回通过可见性过滤的行
func (e *Engine) ScanVisible(ctx context.Context, relName string) ([]Row, error) {
	rel, err := e.OpenRelation(ctx, relName, lock.RowExclusive)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer e.CloseRelation(rel, lock.RowExclusive)

	nblocks, err := e.NBlocks(rel)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var rows []Row
	for blk := uint32(0); blk < nblocks; blk++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		buf, err := e.pool.ReadBuffer(rel.ID, disk.ForkMain, blk)
		if err != nil {
			return nil, errors.Trace(err)
		}
		buf.RLock()
		p := buf.Page()
		if p.IsInitialized() {
			for offNo := uint16(1); offNo <= p.MaxOffNo(); offNo++ {
				id := p.ItemID(offNo)
				// 重定向slot的目标是正常slot，会被直接访问到
				if !id.IsNormal() {
					continue
				}
				h := tuple.HeaderByte(p.Item(id))
				if !visible(h) {
					continue
				}
				data := make([]byte, len(h.Data()))
				copy(data, h.Data())
				rows = append(rows, Row{TID: tuple.NewTID(blk, offNo), Data: data})
			}
		}
		buf.RUnlock()
		e.pool.Release(buf)
	}
	return rows, nil
}

// ReadTupleInfo 读取指定TID的元组头快照
func (e *Engine) ReadTupleInfo(ctx context.Context, relName string, tid tuple.TID) (*TupleInfo, error) {
	rel, err := e.OpenRelation(ctx, relName, lock.RowExclusive)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer e.CloseRelation(rel, lock.RowExclusive)

	buf, err := e.pool.ReadBuffer(rel.ID, disk.ForkMain, tid.BlockNo)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer e.pool.Release(buf)

	buf.RLock()
	defer buf.RUnlock()
	p := buf.Page()
	if tid.OffNo == 0 || tid.OffNo > p.MaxOffNo() {
		return nil, errors.NotFoundf("tuple %s", tid)
	}
	id := p.ItemID(tid.OffNo)
	if !id.IsNormal() {
		return nil, errors.NotFoundf("tuple %s", tid)
	}
	h := tuple.HeaderByte(p.Item(id))
	return &TupleInfo{
		Xmin:      h.Xmin(),
		Xmax:      h.Xmax(),
		Xvac:      h.Xvac(),
		Ctid:      h.Ctid(),
		Infomask:  h.Infomask(),
		Infomask2: h.Infomask2(),
	}, nil
}

// SetAllVisible 简化的vacuum：所有行都可见的页面置上all-visible标记和vm摘要位
func (e *Engine) SetAllVisible(ctx context.Context, relName string) error {
	rel, err := e.OpenRelation(ctx, relName, lock.RowExclusive)
	if err != nil {
		return errors.Trace(err)
	}
	defer e.CloseRelation(rel, lock.RowExclusive)

	nblocks, err := e.NBlocks(rel)
	if err != nil {
		return errors.Trace(err)
	}

	for blk := uint32(0); blk < nblocks; blk++ {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		buf, err := e.pool.ReadBuffer(rel.ID, disk.ForkMain, blk)
		if err != nil {
			return errors.Trace(err)
		}
		buf.Lock()
		p := buf.Page()
		if !p.IsInitialized() || !pageAllVisible(p) {
			e.pool.UnlockRelease(buf)
			continue
		}

		p.SetAllVisible()
		buf.MarkDirty()
		if err := e.logPage(rel, disk.ForkMain, blk, p); err != nil {
			e.pool.UnlockRelease(buf)
			return errors.Trace(err)
		}

		vmBuf, err := vm.Pin(e.pool, e.dm, rel.ID, blk)
		if err != nil {
			e.pool.UnlockRelease(buf)
			return errors.Trace(err)
		}
		vmBuf.Lock()
		vm.Set(vmBuf.Page(), blk, vm.StatusAllVisible)
		vmBuf.MarkDirty()
		err = e.logPage(rel, disk.ForkVM, vmBuf.Tag().PageNo, vmBuf.Page())
		e.pool.UnlockRelease(vmBuf)
		e.pool.UnlockRelease(buf)
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// pageAllVisible 页面上所有使用中的slot是否都指向可见元组
func pageAllVisible(p page.Page) bool {
	for offNo := uint16(1); offNo <= p.MaxOffNo(); offNo++ {
		id := p.ItemID(offNo)
		switch {
		case !id.IsUsed():
			continue
		case id.IsDead():
			return false
		case id.IsRedirect():
			continue
		default:
			if !visible(tuple.HeaderByte(p.Item(id))) {
				return false
			}
		}
	}
	return true
}

// VMStatus 返回数据页在可见性摘要中的状态位
func (e *Engine) VMStatus(ctx context.Context, relName string, blk uint32) (uint8, error) {
	rel, err := e.OpenRelation(ctx, relName, lock.RowExclusive)
	if err != nil {
		return 0, errors.Trace(err)
	}
	defer e.CloseRelation(rel, lock.RowExclusive)

	vmBuf, err := vm.Pin(e.pool, e.dm, rel.ID, blk)
	if err != nil {
		return 0, errors.Trace(err)
	}
	defer e.pool.Release(vmBuf)

	vmBuf.RLock()
	defer vmBuf.RUnlock()
	return vm.Get(vmBuf.Page(), blk), nil
}
