package tuple

import (
	"encoding/binary"

	"github.com/zhukovaskychina/xheap-surgery/server/heap/txid"
)

// 元组头在页面上的布局
//
//	xmin      4字节   创建该元组的事务ID
//	xmax      4字节   删除/更新该元组的事务ID
//	xvac      4字节   旧版本存储格式迁移用的辅助事务ID，仅在moved标记存在时有意义
//	ctid      6字节   元组自身位置指针，更新链表通过该字段串联
//	infomask  2字节   事务状态位
//	infomask2 2字节   其他标记位 (hot-updated / keys-updated)
//
// 之后是用户数据。可见性修复只改动头部字段，用户数据永远不被解释。
const (
	xminOffset      = 0
	xmaxOffset      = 4
	xvacOffset      = 8
	ctidOffset      = 12
	infomaskOffset  = 18
	infomask2Offset = 20

	// HeaderSize 元组头长度
	HeaderSize = 22
)

// infomask 事务状态位
const (
	// XminCommitted xmin已提交的提示位
	XminCommitted uint16 = 0x0100
	// XminInvalid xmin无效/已回滚
	XminInvalid uint16 = 0x0200
	// XminFrozen xmin已冻结，等于 committed|invalid 两位同时置位
	XminFrozen uint16 = XminCommitted | XminInvalid
	// XmaxCommitted xmax已提交
	XmaxCommitted uint16 = 0x0400
	// XmaxInvalid xmax无效，元组未被删除
	XmaxInvalid uint16 = 0x0800
	// Updated 该元组被更新过
	Updated uint16 = 0x2000
	// MovedOff 旧版本格式遗留标记：元组已被迁出
	MovedOff uint16 = 0x4000
	// MovedIn 旧版本格式遗留标记：元组已被迁入
	MovedIn uint16 = 0x8000
	// MovedMask 两个moved标记的掩码
	MovedMask uint16 = MovedOff | MovedIn
	// XactMask 所有参与可见性判断的事务状态位
	XactMask uint16 = 0xFFF0
)

// infomask2 标记位
const (
	// KeysUpdated 更新操作修改了键值
	KeysUpdated uint16 = 0x2000
	// HotUpdated 元组处于HOT更新链中
	HotUpdated uint16 = 0x4000
)

// MovedKind moved遗留标记的显式表示
// 原始格式用两个bit表达三种状态，这里用枚举值避免散落的位运算
type MovedKind int

const (
	MovedNone MovedKind = iota
	MovedKindOff
	MovedKindIn
)

// HeaderByte 指向页面内一条元组的原始字节，读写直接作用于页面镜像
type HeaderByte []byte

// Xmin 返回创建事务ID
func (h HeaderByte) Xmin() txid.TxID {
	return txid.TxID(binary.LittleEndian.Uint32(h[xminOffset : xminOffset+4]))
}

// SetXmin 设置创建事务ID
func (h HeaderByte) SetXmin(id txid.TxID) {
	binary.LittleEndian.PutUint32(h[xminOffset:xminOffset+4], uint32(id))
}

// Xmax 返回删除事务ID
func (h HeaderByte) Xmax() txid.TxID {
	return txid.TxID(binary.LittleEndian.Uint32(h[xmaxOffset : xmaxOffset+4]))
}

// SetXmax 设置删除事务ID
func (h HeaderByte) SetXmax(id txid.TxID) {
	binary.LittleEndian.PutUint32(h[xmaxOffset:xmaxOffset+4], uint32(id))
}

// Xvac 返回moved迁移辅助事务ID
func (h HeaderByte) Xvac() txid.TxID {
	return txid.TxID(binary.LittleEndian.Uint32(h[xvacOffset : xvacOffset+4]))
}

// SetXvac 设置moved迁移辅助事务ID
func (h HeaderByte) SetXvac(id txid.TxID) {
	binary.LittleEndian.PutUint32(h[xvacOffset:xvacOffset+4], uint32(id))
}

// Ctid 返回自身位置指针
func (h HeaderByte) Ctid() TID {
	return ReadTID(h[ctidOffset : ctidOffset+TIDSize])
}

// SetCtid 设置自身位置指针
func (h HeaderByte) SetCtid(t TID) {
	t.WriteTo(h[ctidOffset : ctidOffset+TIDSize])
}

// Infomask 返回事务状态位
func (h HeaderByte) Infomask() uint16 {
	return binary.LittleEndian.Uint16(h[infomaskOffset : infomaskOffset+2])
}

// SetInfomask 设置事务状态位
func (h HeaderByte) SetInfomask(mask uint16) {
	binary.LittleEndian.PutUint16(h[infomaskOffset:infomaskOffset+2], mask)
}

// Infomask2 返回其他标记位
func (h HeaderByte) Infomask2() uint16 {
	return binary.LittleEndian.Uint16(h[infomask2Offset : infomask2Offset+2])
}

// SetInfomask2 设置其他标记位
func (h HeaderByte) SetInfomask2(mask uint16) {
	binary.LittleEndian.PutUint16(h[infomask2Offset:infomask2Offset+2], mask)
}

// XminIsFrozen 判断xmin是否已冻结
func (h HeaderByte) XminIsFrozen() bool {
	return h.Infomask()&XminFrozen == XminFrozen
}

// XminIsCommitted 判断xmin是否带已提交提示
func (h HeaderByte) XminIsCommitted() bool {
	return h.Infomask()&XminCommitted != 0
}

// XmaxIsInvalid 判断xmax是否无效
func (h HeaderByte) XmaxIsInvalid() bool {
	return h.Infomask()&XmaxInvalid != 0
}

// Moved 返回moved遗留标记的显式状态
func (h HeaderByte) Moved() MovedKind {
	mask := h.Infomask()
	if mask&MovedMask == 0 {
		return MovedNone
	}
	if mask&MovedOff != 0 {
		return MovedKindOff
	}
	return MovedKindIn
}

// Data 返回元组头之后的用户数据
func (h HeaderByte) Data() []byte {
	return h[HeaderSize:]
}

// InitHeader 初始化一条新元组的头部字节
// 新元组 xmax 无效，ctid 指向自身
func InitHeader(h HeaderByte, xmin txid.TxID, self TID) {
	h.SetXmin(xmin)
	h.SetXmax(txid.Invalid)
	h.SetXvac(txid.Invalid)
	h.SetCtid(self)
	h.SetInfomask(XmaxInvalid)
	h.SetInfomask2(0)
}
