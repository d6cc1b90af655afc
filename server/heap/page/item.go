package page

// ItemState slot状态，占2个bit
type ItemState uint8

const (
	// StateUnused 未使用
	StateUnused ItemState = 0
	// StateNormal 指向一条正常元组
	StateNormal ItemState = 1
	// StateRedirect 重定向到本页另一个槽位，offset字段存目标槽位号
	StateRedirect ItemState = 2
	// StateDead 元组已死亡，内容引用已断开
	StateDead ItemState = 3
)

// ItemID 一个4字节slot（行指针）
//
//	bit  0-14  元组在页内的字节偏移；重定向slot存目标槽位号
//	bit 15-16  状态
//	bit 17-31  元组长度
type ItemID uint32

// ItemSize slot长度
const ItemSize = 4

// NewItemID 组装slot
func NewItemID(offset uint16, state ItemState, length uint16) ItemID {
	return ItemID(uint32(offset&0x7FFF) |
		uint32(state&0x3)<<15 |
		uint32(length&0x7FFF)<<17)
}

// Offset 返回元组的页内字节偏移
func (id ItemID) Offset() uint32 {
	return uint32(id) & 0x7FFF
}

// State 返回slot状态
func (id ItemID) State() ItemState {
	return ItemState(uint32(id) >> 15 & 0x3)
}

// Length 返回元组长度
func (id ItemID) Length() uint32 {
	return uint32(id) >> 17 & 0x7FFF
}

// IsUsed slot是否在使用中
func (id ItemID) IsUsed() bool {
	return id.State() != StateUnused
}

// IsNormal slot是否指向正常元组
func (id ItemID) IsNormal() bool {
	return id.State() == StateNormal
}

// IsRedirect slot是否为重定向
func (id ItemID) IsRedirect() bool {
	return id.State() == StateRedirect
}

// IsDead slot是否已标记死亡
func (id ItemID) IsDead() bool {
	return id.State() == StateDead
}

// RedirectTarget 返回重定向的目标槽位号，仅对重定向slot有意义
func (id ItemID) RedirectTarget() uint16 {
	return uint16(id.Offset())
}

// NewRedirect 组装一个指向目标槽位的重定向slot
func NewRedirect(target uint16) ItemID {
	return NewItemID(target, StateRedirect, 0)
}
