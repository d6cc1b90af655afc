package txid

// TxID 事务ID，32位循环使用
// 0/1/2 为保留值，正常事务从 FirstNormal 开始分配
type TxID uint32

const (
	// Invalid 无效事务ID，xmax 为该值代表记录未被删除
	Invalid TxID = 0
	// Bootstrap 初始化数据库时使用的事务ID
	Bootstrap TxID = 1
	// Frozen 冻结事务ID，对所有事务永久可见
	Frozen TxID = 2
	// FirstNormal 第一个正常事务ID
	FirstNormal TxID = 3
)

// IsValid 判断事务ID是否有效
func (id TxID) IsValid() bool {
	return id != Invalid
}

// IsNormal 判断是否为正常事务ID
func (id TxID) IsNormal() bool {
	return id >= FirstNormal
}
