// Package vm 实现可见性摘要（visibility map）
// 每个数据页在vm fork中占2个bit，低位表示all-visible，高位表示all-frozen
// 该摘要是数据页all-visible标记的镜像，两者落盘后不允许出现分歧
package vm

import (
	"github.com/zhukovaskychina/xheap-surgery/server/heap/buffer"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/disk"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/page"
)

// 摘要位
const (
	// StatusAllVisible 页内所有存活元组对全部事务可见
	StatusAllVisible uint8 = 0x01
	// StatusAllFrozen 页内所有元组已冻结
	StatusAllFrozen uint8 = 0x02
)

const (
	// 每个数据页占2个bit
	nodeBits = 2
	// 一个字节容纳4个数据页的摘要
	nodesPerByte = 8 / nodeBits
	// 一个vm页容纳的数据页数量，页头之后整个页面都是位图
	nodesPerVMPage = (page.Size - page.HeaderSize) * nodesPerByte
)

// VMPageNo 返回数据页的摘要位所在的vm页号
func VMPageNo(heapBlk uint32) uint32 {
	return heapBlk / nodesPerVMPage
}

// 摘要位在vm页内的位置
type address struct {
	byteOffset uint32
	bitShift   uint32
}

func addressOf(heapBlk uint32) address {
	node := heapBlk % nodesPerVMPage
	return address{
		byteOffset: page.HeaderSize + node/nodesPerByte,
		bitShift:   (node % nodesPerByte) * nodeBits,
	}
}

// Pin 把数据页对应的vm页读进缓冲池并pin住
// vm fork长度不足时先扩展，扩出来的页面摘要位全部为0
func Pin(pool *buffer.Pool, dm *disk.Manager, relID uint32, heapBlk uint32) (*buffer.Buffer, error) {
	vmPageNo := VMPageNo(heapBlk)

	nblocks, err := dm.NBlocks(relID, disk.ForkVM)
	if err != nil {
		return nil, err
	}
	for nblocks <= vmPageNo {
		if _, err := dm.Extend(relID, disk.ForkVM); err != nil {
			return nil, err
		}
		nblocks++
	}

	buf, err := pool.ReadBuffer(relID, disk.ForkVM, vmPageNo)
	if err != nil {
		return nil, err
	}
	// 新扩展的vm页在首次使用时初始化页头
	buf.Lock()
	if !buf.Page().IsInitialized() {
		buf.Page().Init()
		buf.MarkDirty()
	}
	buf.Unlock()
	return buf, nil
}

// Get 返回数据页的摘要位，调用方需持有vm页内容锁
func Get(p page.Page, heapBlk uint32) uint8 {
	addr := addressOf(heapBlk)
	return p[addr.byteOffset] >> addr.bitShift & 0x03
}

// Set 置位数据页的摘要位，调用方需持有vm页内容排他锁
func Set(p page.Page, heapBlk uint32, flags uint8) {
	addr := addressOf(heapBlk)
	p[addr.byteOffset] |= (flags & 0x03) << addr.bitShift
}

// Clear 清除数据页的指定摘要位，调用方需持有vm页内容排他锁
func Clear(p page.Page, heapBlk uint32, flags uint8) {
	addr := addressOf(heapBlk)
	p[addr.byteOffset] &^= (flags & 0x03) << addr.bitShift
}
