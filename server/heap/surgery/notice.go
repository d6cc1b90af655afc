package surgery

import (
	"fmt"

	"github.com/zhukovaskychina/xheap-surgery/logger"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/tuple"
)

// NoticeCode 行级跳过原因
// 跳过只影响单行（块号越界时影响整组），调用整体仍然成功
type NoticeCode int

const (
	// NoticeBlockOutOfRange 块号不小于表当前页面数，整组跳过
	NoticeBlockOutOfRange NoticeCode = iota
	// NoticeOffsetOutOfRange 槽位号为0或超过页内最大槽位号
	NoticeOffsetOutOfRange
	// NoticeAlreadyUnused 槽位未使用
	NoticeAlreadyUnused
	// NoticeAlreadyDead 槽位已标记死亡
	NoticeAlreadyDead
)

func (c NoticeCode) String() string {
	switch c {
	case NoticeBlockOutOfRange:
		return "BlockOutOfRange"
	case NoticeOffsetOutOfRange:
		return "OffsetOutOfRange"
	case NoticeAlreadyUnused:
		return "AlreadyUnused"
	case NoticeAlreadyDead:
		return "AlreadyDead"
	}
	return "Unknown"
}

// Notice 一条行级跳过通知
type Notice struct {
	Code    NoticeCode
	TID     tuple.TID
	Message string
}

// Result 一次修复调用的结果
type Result struct {
	Relation string
	// Notices 按处理顺序排列的跳过通知
	Notices []Notice
	// Changed 实际被改动的行数
	Changed int
}

// HasNotice 判断结果中是否出现过指定类型的通知
func (r *Result) HasNotice(code NoticeCode) bool {
	for _, n := range r.Notices {
		if n.Code == code {
			return true
		}
	}
	return false
}

// notice 记录一条跳过通知并写警告日志
func (r *Result) notice(code NoticeCode, tid tuple.TID, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	r.Notices = append(r.Notices, Notice{Code: code, TID: tid, Message: msg})
	logger.Warnf("%s", msg)
}
