package tuple

import (
	"encoding/binary"
	"fmt"
)

// TID 行标识符 (块号, 槽位号)，对应磁盘上某一页中的一个槽位
// 槽位号从1开始，0为无效值
type TID struct {
	BlockNo uint32
	OffNo   uint16
}

// TIDSize TID在页面上的序列化长度
const TIDSize = 6

// NewTID 创建TID
func NewTID(blockNo uint32, offNo uint16) TID {
	return TID{BlockNo: blockNo, OffNo: offNo}
}

// Compare 先比较块号再比较槽位号，返回 -1/0/+1
func (t TID) Compare(other TID) int {
	if t.BlockNo < other.BlockNo {
		return -1
	}
	if t.BlockNo > other.BlockNo {
		return 1
	}
	if t.OffNo < other.OffNo {
		return -1
	}
	if t.OffNo > other.OffNo {
		return 1
	}
	return 0
}

// Equals 判断两个TID是否指向同一槽位
func (t TID) Equals(other TID) bool {
	return t.BlockNo == other.BlockNo && t.OffNo == other.OffNo
}

func (t TID) String() string {
	return fmt.Sprintf("(%d,%d)", t.BlockNo, t.OffNo)
}

// WriteTo 序列化到页面字节
func (t TID) WriteTo(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], t.BlockNo)
	binary.LittleEndian.PutUint16(b[4:6], t.OffNo)
}

// ReadTID 从页面字节反序列化
func ReadTID(b []byte) TID {
	return TID{
		BlockNo: binary.LittleEndian.Uint32(b[0:4]),
		OffNo:   binary.LittleEndian.Uint16(b[4:6]),
	}
}
