package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xheap-surgery/server/heap/buffer"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/disk"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/page"
)

func TestSetGetClear(t *testing.T) {
	p := page.New()

	assert.Equal(t, uint8(0), Get(p, 0))

	Set(p, 0, StatusAllVisible)
	assert.Equal(t, StatusAllVisible, Get(p, 0))

	Set(p, 0, StatusAllFrozen)
	assert.Equal(t, StatusAllVisible|StatusAllFrozen, Get(p, 0))

	// 相邻页的位互不影响
	assert.Equal(t, uint8(0), Get(p, 1))
	Set(p, 1, StatusAllVisible)
	Clear(p, 0, StatusAllVisible|StatusAllFrozen)
	assert.Equal(t, uint8(0), Get(p, 0))
	assert.Equal(t, StatusAllVisible, Get(p, 1))
}

func TestManyBlocks(t *testing.T) {
	p := page.New()

	// 同一个vm页能覆盖的堆页彼此独立
	for blk := uint32(0); blk < 64; blk += 7 {
		Set(p, blk, StatusAllVisible)
	}
	for blk := uint32(0); blk < 64; blk++ {
		want := uint8(0)
		if blk%7 == 0 {
			want = StatusAllVisible
		}
		assert.Equal(t, want, Get(p, blk), "block %d", blk)
	}
}

func TestPinExtendsFork(t *testing.T) {
	dm, err := disk.NewManager(t.TempDir())
	require.NoError(t, err)
	defer dm.Close()
	pool := buffer.NewPool(dm, 4)

	buf, err := Pin(pool, dm, 9, 0)
	require.NoError(t, err)
	require.NotNil(t, buf)

	n, err := dm.NBlocks(9, disk.ForkVM)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)

	buf.Lock()
	Set(buf.Page(), 0, StatusAllVisible)
	buf.MarkDirty()
	pool.UnlockRelease(buf)

	buf2, err := Pin(pool, dm, 9, 0)
	require.NoError(t, err)
	buf2.RLock()
	assert.Equal(t, StatusAllVisible, Get(buf2.Page(), 0))
	buf2.RUnlock()
	pool.Release(buf2)
}
