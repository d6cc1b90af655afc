// Package page 实现槽式页面（slotted page）的二进制格式
//
// 页面布局:
//
//	+----------------+--------------------------------+
//	| 页头 24字节     | slot1 slot2 slot3 ...          |
//	+----------------+--------------------------------+
//	|               ^ lower                           |
//	|                        空闲空间                  |
//	|                              v upper            |
//	+-------------------------------------------------+
//	|              ... tuple3 tuple2 tuple1 | 特殊空间 |
//	+-------------------------------------------------+
//
// slot数组从页头向后增长，元组从页尾向前增长，lower~upper之间为空闲空间
package page

import (
	"encoding/binary"

	"github.com/zhukovaskychina/xheap-surgery/util"
)

// Size 页面大小，8KB
const Size = 8192

// 页头各字段的字节偏移
const (
	lsnOffset      = 0  // 8字节 最后一次修改该页的日志序号
	checksumOffset = 8  // 8字节 页面校验和
	flagsOffset    = 16 // 2字节 页面标记位
	lowerOffset    = 18 // 2字节 slot数组结束位置
	upperOffset    = 20 // 2字节 空闲空间结束位置
	specialOffset  = 22 // 2字节 特殊空间起始位置

	// HeaderSize 页头长度，slot数组紧随其后
	HeaderSize = 24
)

// 页面标记位
const (
	// FlagAllVisible 本页所有存活元组对全部事务可见
	FlagAllVisible uint16 = 0x0001
)

// MaxItemCount 一页最多容纳的slot数量，也是重定向链的迭代上限
const MaxItemCount = (Size - HeaderSize) / ItemSize

// Page 一个页面的原始字节镜像，所有读写直接作用于该字节切片
type Page []byte

// New 分配并初始化一个空页面
func New() Page {
	p := make(Page, Size)
	p.Init()
	return p
}

// Init 初始化页头，清空所有slot
func (p Page) Init() {
	for i := range p {
		p[i] = 0
	}
	p.setLower(HeaderSize)
	p.setUpper(Size)
	p.setSpecial(Size)
}

// IsInitialized 判断页面是否已经初始化过
// 扩展文件得到的新页面为全零，upper为0
func (p Page) IsInitialized() bool {
	return p.upper() != 0
}

// LSN 返回页面LSN
func (p Page) LSN() uint64 {
	return binary.LittleEndian.Uint64(p[lsnOffset : lsnOffset+8])
}

// SetLSN 设置页面LSN
func (p Page) SetLSN(lsn uint64) {
	binary.LittleEndian.PutUint64(p[lsnOffset:lsnOffset+8], lsn)
}

// Checksum 返回存储的校验和
func (p Page) Checksum() uint64 {
	return binary.LittleEndian.Uint64(p[checksumOffset : checksumOffset+8])
}

// ComputeChecksum 计算校验和，跳过校验和字段本身
func (p Page) ComputeChecksum() uint64 {
	h := util.NewPageHash()
	h.Write(p[:checksumOffset])
	h.Write(p[checksumOffset+8:])
	return h.Sum64()
}

// UpdateChecksum 重算并写入校验和，落盘前调用
func (p Page) UpdateChecksum() {
	binary.LittleEndian.PutUint64(p[checksumOffset:checksumOffset+8], p.ComputeChecksum())
}

// VerifyChecksum 校验页面内容，读盘后调用
func (p Page) VerifyChecksum() bool {
	return p.Checksum() == p.ComputeChecksum()
}

func (p Page) flags() uint16 {
	return binary.LittleEndian.Uint16(p[flagsOffset : flagsOffset+2])
}

func (p Page) setFlags(f uint16) {
	binary.LittleEndian.PutUint16(p[flagsOffset:flagsOffset+2], f)
}

// IsAllVisible 判断all-visible标记是否置位
func (p Page) IsAllVisible() bool {
	return p.flags()&FlagAllVisible != 0
}

// SetAllVisible 置位all-visible标记
func (p Page) SetAllVisible() {
	p.setFlags(p.flags() | FlagAllVisible)
}

// ClearAllVisible 清除all-visible标记
func (p Page) ClearAllVisible() {
	p.setFlags(p.flags() &^ FlagAllVisible)
}

func (p Page) lower() uint16 {
	return binary.LittleEndian.Uint16(p[lowerOffset : lowerOffset+2])
}

func (p Page) setLower(v uint16) {
	binary.LittleEndian.PutUint16(p[lowerOffset:lowerOffset+2], v)
}

func (p Page) upper() uint16 {
	return binary.LittleEndian.Uint16(p[upperOffset : upperOffset+2])
}

func (p Page) setUpper(v uint16) {
	binary.LittleEndian.PutUint16(p[upperOffset:upperOffset+2], v)
}

func (p Page) setSpecial(v uint16) {
	binary.LittleEndian.PutUint16(p[specialOffset:specialOffset+2], v)
}

// MaxOffNo 返回本页已分配的最大槽位号，0表示页面为空
func (p Page) MaxOffNo() uint16 {
	return (p.lower() - HeaderSize) / ItemSize
}

// FreeSpace 返回空闲空间字节数
func (p Page) FreeSpace() uint16 {
	return p.upper() - p.lower()
}

// ItemID 返回槽位号对应的slot，槽位号必须在 [1, MaxOffNo] 范围内
func (p Page) ItemID(offNo uint16) ItemID {
	pos := HeaderSize + (int(offNo)-1)*ItemSize
	return ItemID(binary.LittleEndian.Uint32(p[pos : pos+ItemSize]))
}

// SetItemID 写回槽位号对应的slot
func (p Page) SetItemID(offNo uint16, id ItemID) {
	pos := HeaderSize + (int(offNo)-1)*ItemSize
	binary.LittleEndian.PutUint32(p[pos:pos+ItemSize], uint32(id))
}

// Item 返回slot指向的元组字节
func (p Page) Item(id ItemID) []byte {
	return p[id.Offset() : id.Offset()+id.Length()]
}

// SetDead 将槽位标记为dead，断开对元组内容的引用
// 元组占用的空间留待整理过程回收
func (p Page) SetDead(offNo uint16) {
	p.SetItemID(offNo, NewItemID(0, StateDead, 0))
}

// AddItem 追加一条元组到页面，返回分配的槽位号
// 空间不足时返回false，页面不被改动
func (p Page) AddItem(data []byte) (uint16, bool) {
	need := uint16(len(data)) + ItemSize
	if p.FreeSpace() < need {
		return 0, false
	}
	offNo := p.MaxOffNo() + 1
	upper := p.upper() - uint16(len(data))
	copy(p[upper:], data)
	p.SetItemID(offNo, NewItemID(upper, StateNormal, uint16(len(data))))
	p.setLower(p.lower() + ItemSize)
	p.setUpper(upper)
	return offNo, true
}
