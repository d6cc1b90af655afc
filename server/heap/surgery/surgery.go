// Package surgery 损坏堆表的行级修复工具
//
// 提供两个绕过事务可见性规则的应急操作:
//
//	ForceKill    把指定的行强制标记为死亡
//	ForceFreeze  把指定的行强制冻结为永久可见
//
// 只在普通查询已经无法运行（比如引用了被销毁的事务ID）的最后手段场景
// 使用。操作按页分组执行，每一页是独立的原子单元，行级异常只产生跳过
// 通知，不会中断整个调用。
package surgery

import (
	"context"
	"sort"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xheap-surgery/logger"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/catalog"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/engine"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/lock"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/tuple"
)

// ForceOption 行修复的目标状态
type ForceOption int

const (
	// ForceKill 标记为死亡
	ForceKill ForceOption = iota
	// ForceFreeze 冻结为永久可见
	ForceFreeze
)

func (o ForceOption) String() string {
	if o == ForceFreeze {
		return "force_freeze"
	}
	return "force_kill"
}

// Kill 强制杀死tids指向的行
// tids中nil成员代表上层数组字面量里的NULL，会使整个调用失败
func Kill(ctx context.Context, e *engine.Engine, relName string, tids []*tuple.TID) (*Result, error) {
	return forceCommon(ctx, e, relName, tids, ForceKill)
}

// Freeze 强制冻结tids指向的行
func Freeze(ctx context.Context, e *engine.Engine, relName string, tids []*tuple.TID) (*Result, error) {
	return forceCommon(ctx, e, relName, tids, ForceFreeze)
}

// forceCommon Kill和Freeze的公共路径
func forceCommon(ctx context.Context, e *engine.Engine, relName string, rawTids []*tuple.TID, opt ForceOption) (*Result, error) {
	if e.RecoveryInProgress() {
		return nil, errors.Trace(ErrRecoveryInProgress)
	}

	tids, err := sanityCheckTidList(rawTids)
	if err != nil {
		return nil, errors.Trace(err)
	}

	rel, err := e.OpenRelation(ctx, relName, lock.RowExclusive)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer e.CloseRelation(rel, lock.RowExclusive)

	if err := sanityCheckRelation(rel, e.CurrentUser()); err != nil {
		return nil, errors.Trace(err)
	}

	// 排序之后同一页的tid连续排列，可以一次线性扫描完成分组
	if len(tids) > 1 {
		sort.Slice(tids, func(i, j int) bool {
			return tids[i].Compare(tids[j]) < 0
		})
	}

	nblocks, err := e.NBlocks(rel)
	if err != nil {
		return nil, errors.Trace(err)
	}

	res := &Result{Relation: relName}
	logger.Infof("%s on relation %q: %d tids, %d blocks", opt, relName, len(tids), nblocks)

	next := 0
	for next < len(tids) {
		blkno, offNos, newNext := sameBlockOffsets(tids, next)
		next = newNext

		// 指向表尾之后的过期tid不算错误，整组跳过
		if blkno >= nblocks {
			res.notice(NoticeBlockOutOfRange, tuple.NewTID(blkno, 0),
				"skipping block %d for relation %q because the block number is out of range",
				blkno, relName)
			continue
		}

		if err := ctx.Err(); err != nil {
			return nil, errors.Annotate(err, "surgery canceled")
		}

		if err := processPageGroup(e, rel, blkno, offNos, opt, res); err != nil {
			return nil, errors.Trace(err)
		}
	}

	logger.Infof("%s on relation %q done: %d rows changed, %d notices",
		opt, relName, res.Changed, len(res.Notices))
	return res, nil
}

// sanityCheckTidList 校验tid列表并复制为值切片
func sanityCheckTidList(tids []*tuple.TID) ([]tuple.TID, error) {
	out := make([]tuple.TID, 0, len(tids))
	for _, t := range tids {
		if t == nil {
			return nil, ErrNullTidEntry
		}
		out = append(out, *t)
	}
	if len(out) == 0 {
		return nil, ErrEmptyTidList
	}
	return out, nil
}

// sanityCheckRelation 校验目标对象类型和调用者权限
// 类型检查只看对象kind，不检查存储访问方法
func sanityCheckRelation(rel *catalog.Relation, user engine.Session) error {
	switch rel.Kind {
	case catalog.KindTable, catalog.KindMatView, catalog.KindToast:
	default:
		return errors.Annotatef(ErrUnsupportedRelKind, "relation %q kind %s", rel.Name, rel.Kind)
	}

	if !user.Superuser && rel.Owner != user.UserID {
		return errors.Annotatef(ErrNotOwner, "relation %q", rel.Name)
	}
	return nil
}

// sameBlockOffsets 从start开始收集与tids[start]同一块号的所有槽位号
// 返回块号、槽位号列表和下一组的起始位置
// tids必须已按(块号,槽位号)排序，因此组内槽位号递增
func sameBlockOffsets(tids []tuple.TID, start int) (uint32, []uint16, int) {
	blkno := tids[start].BlockNo
	offNos := make([]uint16, 0, len(tids)-start)

	i := start
	for ; i < len(tids); i++ {
		if tids[i].BlockNo != blkno {
			break
		}
		offNos = append(offNos, tids[i].OffNo)
	}
	return blkno, offNos, i
}
