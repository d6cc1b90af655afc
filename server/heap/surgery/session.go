package surgery

import (
	"github.com/juju/errors"

	"github.com/zhukovaskychina/xheap-surgery/logger"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/buffer"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/catalog"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/disk"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/engine"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/page"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/tuple"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/txid"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/vm"
)

// pageSession 一页的修复会话
//
// 页面以cleanup模式独占持有。所有改动先写到work镜像上，commit时一次性
// 写日志并发布回共享缓冲区：要么日志落盘且页面更新，要么页面分毫未动。
// 进入commit之后的任何异常都是进程级致命错误，因为此时已不允许页面镜像
// 和重做日志出现分歧。
type pageSession struct {
	e     *engine.Engine
	rel   *catalog.Relation
	blkno uint32

	buf   *buffer.Buffer
	vmBuf *buffer.Buffer

	// work 待提交的页面镜像
	work page.Page
	// vmWork 待提交的vm页镜像，仅在vm页被pin后有效
	vmWork page.Page

	modified   bool
	vmModified bool
}

// processPageGroup 打开一页的修复会话，应用一组槽位的变更并提交
func processPageGroup(e *engine.Engine, rel *catalog.Relation, blkno uint32, offNos []uint16, opt ForceOption, res *Result) error {
	buf, err := e.Pool().ReadBuffer(rel.ID, disk.ForkMain, blkno)
	if err != nil {
		return errors.Trace(err)
	}

	// cleanup锁：内容排他锁并等待所有其他pin释放
	buf.LockForCleanup()

	sess := &pageSession{
		e:     e,
		rel:   rel,
		blkno: blkno,
		buf:   buf,
		work:  make(page.Page, page.Size),
	}
	copy(sess.work, buf.Page())

	// 杀行可能需要撤销vm摘要位，进入原子窗口前先把vm页pin住并锁定
	if opt == ForceKill && sess.work.IsAllVisible() {
		vmBuf, err := vm.Pin(e.Pool(), e.DiskManager(), rel.ID, blkno)
		if err != nil {
			e.Pool().UnlockRelease(buf)
			return errors.Trace(err)
		}
		vmBuf.Lock()
		sess.vmBuf = vmBuf
		sess.vmWork = make(page.Page, page.Size)
		copy(sess.vmWork, vmBuf.Page())
	}

	// ---- 原子修改窗口开始，此后不允许任何可恢复错误 ----
	for _, offNo := range offNos {
		if opt == ForceKill {
			sess.forceKillOne(offNo, res)
		} else {
			sess.forceFreezeOne(offNo, res)
		}
	}
	sess.commit()
	// ---- 原子修改窗口结束 ----

	sess.release()
	return nil
}

// resolveItem 解析槽位，沿重定向链找到真正的slot
// 链长以页面slot容量为上限，超过即认定页面结构损坏，直接终止进程
func (s *pageSession) resolveItem(offNo uint16) (uint16, page.ItemID) {
	maxOff := s.work.MaxOffNo()
	id := s.work.ItemID(offNo)

	for i := 0; id.IsRedirect(); i++ {
		if i >= page.MaxItemCount {
			logger.Fatalf("redirect chain on block %d of relation %q exceeds page capacity",
				s.blkno, s.rel.Name)
		}
		offNo = id.RedirectTarget()
		if offNo == 0 || offNo > maxOff {
			logger.Fatalf("redirect target (%d,%d) of relation %q is out of range",
				s.blkno, offNo, s.rel.Name)
		}
		id = s.work.ItemID(offNo)
	}
	return offNo, id
}

// precheck 杀行/冻结共用的槽位预检，不可操作的槽位产生跳过通知
func (s *pageSession) precheck(offNo uint16, res *Result) (uint16, page.ItemID, bool) {
	if offNo == 0 || offNo > s.work.MaxOffNo() {
		res.notice(NoticeOffsetOutOfRange, tuple.NewTID(s.blkno, offNo),
			"skipping tid (%d,%d) for relation %q because the item number is out of range for this block",
			s.blkno, offNo, s.rel.Name)
		return 0, 0, false
	}

	resolved, id := s.resolveItem(offNo)

	if !id.IsUsed() {
		res.notice(NoticeAlreadyUnused, tuple.NewTID(s.blkno, offNo),
			"skipping tid (%d,%d) for relation %q because it is marked unused",
			s.blkno, offNo, s.rel.Name)
		return 0, 0, false
	}
	if id.IsDead() {
		res.notice(NoticeAlreadyDead, tuple.NewTID(s.blkno, offNo),
			"skipping tid (%d,%d) for relation %q because it is marked dead",
			s.blkno, offNo, s.rel.Name)
		return 0, 0, false
	}

	if !id.IsNormal() {
		logger.Fatalf("unexpected item state %d at (%d,%d) of relation %q",
			id.State(), s.blkno, resolved, s.rel.Name)
	}
	return resolved, id, true
}

// forceKillOne 把一个槽位强制标记为死亡
func (s *pageSession) forceKillOne(offNo uint16, res *Result) {
	resolved, _, ok := s.precheck(offNo, res)
	if !ok {
		return
	}

	s.work.SetDead(resolved)
	s.modified = true
	res.Changed++

	// 新死亡的行使all-visible摘要失效，页面标记和vm位必须同窗口撤销
	if s.work.IsAllVisible() {
		s.work.ClearAllVisible()
		vm.Clear(s.vmWork, s.blkno, vm.StatusAllVisible|vm.StatusAllFrozen)
		s.vmModified = true
	}
}

// forceFreezeOne 把一个槽位指向的行强制冻结
func (s *pageSession) forceFreezeOne(offNo uint16, res *Result) {
	_, id, ok := s.precheck(offNo, res)
	if !ok {
		return
	}

	h := tuple.HeaderByte(s.work.Item(id))

	// 损坏的行可能带着过期的自身位置指针，会误导更新链导航，先修正
	self := tuple.NewTID(s.blkno, offNo)
	if !h.Ctid().Equals(self) {
		h.SetCtid(self)
	}

	h.SetXmin(txid.Frozen)
	h.SetXmax(txid.Invalid)

	// 旧存储格式迁移遗留的moved标记，按变体把辅助事务ID归位
	switch h.Moved() {
	case tuple.MovedKindOff:
		h.SetXvac(txid.Invalid)
	case tuple.MovedKindIn:
		h.SetXvac(txid.Frozen)
	}

	// 清掉全部事务状态位，只保留 xmin冻结 + xmax无效
	mask := h.Infomask() &^ tuple.XactMask
	mask |= tuple.XminFrozen | tuple.XmaxInvalid
	h.SetInfomask(mask)

	// 冻结的行不可能处于更新链中间
	h.SetInfomask2(h.Infomask2() &^ (tuple.HotUpdated | tuple.KeysUpdated))

	s.modified = true
	res.Changed++
}

// commit 提交本页的待定变更
// 先追加整页镜像日志并落盘，再把work镜像发布回共享缓冲区。
// 页面日志在前，vm日志在后，两者都在释放cleanup锁之前落盘。
// 窗口内的任何故障都会使页面镜像与日志分歧，只能终止进程
func (s *pageSession) commit() {
	if !s.modified {
		return
	}

	if s.rel.NeedsRedo() {
		rm := s.e.RedoManager()

		lsn, err := rm.AppendPageImage(s.rel.ID, disk.ForkMain, s.blkno, s.work)
		if err != nil {
			logger.Fatalf("append redo record for block %d of relation %q: %v", s.blkno, s.rel.Name, err)
		}
		s.work.SetLSN(lsn)

		flushTo := lsn
		if s.vmModified {
			vmLSN, err := rm.AppendPageImage(s.rel.ID, disk.ForkVM, s.vmBuf.Tag().PageNo, s.vmWork)
			if err != nil {
				logger.Fatalf("append redo record for vm page of relation %q: %v", s.rel.Name, err)
			}
			s.vmWork.SetLSN(vmLSN)
			flushTo = vmLSN
		}

		if err := rm.Flush(flushTo); err != nil {
			logger.Fatalf("flush redo log to lsn %d: %v", flushTo, err)
		}
	}

	copy(s.buf.Page(), s.work)
	s.buf.MarkDirty()

	if s.vmModified {
		copy(s.vmBuf.Page(), s.vmWork)
		s.vmBuf.MarkDirty()
	}
}

// release 无条件释放cleanup锁和所有pin，零变更的会话也必须走到这里
func (s *pageSession) release() {
	s.e.Pool().UnlockRelease(s.buf)
	if s.vmBuf != nil {
		s.e.Pool().UnlockRelease(s.vmBuf)
	}
}
