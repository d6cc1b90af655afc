package buffer

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xheap-surgery/server/heap/disk"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/page"
)

func newTestPool(t *testing.T, capacity int) (*Pool, *disk.Manager) {
	pool, dm, _ := newTestPoolDir(t, capacity)
	return pool, dm
}

func newTestPoolDir(t *testing.T, capacity int) (*Pool, *disk.Manager, string) {
	dir := t.TempDir()
	dm, err := disk.NewManager(dir)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	return NewPool(dm, capacity), dm, dir
}

func extendOne(t *testing.T, dm *disk.Manager, relID uint32) uint32 {
	blk, err := dm.Extend(relID, disk.ForkMain)
	require.NoError(t, err)
	return blk
}

func TestReadBufferHit(t *testing.T) {
	pool, dm := newTestPool(t, 4)
	blk := extendOne(t, dm, 1)

	b1, err := pool.ReadBuffer(1, disk.ForkMain, blk)
	require.NoError(t, err)
	b2, err := pool.ReadBuffer(1, disk.ForkMain, blk)
	require.NoError(t, err)

	// 命中时返回同一个缓冲
	assert.Same(t, b1, b2)
	pool.Release(b1)
	pool.Release(b2)
}

func TestDirtyWriteBackOnEvict(t *testing.T) {
	pool, dm := newTestPool(t, 1)
	extendOne(t, dm, 1)
	extendOne(t, dm, 1)

	b, err := pool.ReadBuffer(1, disk.ForkMain, 0)
	require.NoError(t, err)
	b.Lock()
	b.Page().Init()
	_, ok := b.Page().AddItem([]byte("dirty row"))
	require.True(t, ok)
	b.MarkDirty()
	b.Unlock()
	pool.Release(b)

	// 池容量为1，读第二页会把脏页刷回磁盘
	b2, err := pool.ReadBuffer(1, disk.ForkMain, 1)
	require.NoError(t, err)
	pool.Release(b2)

	got := page.New()
	require.NoError(t, dm.ReadPage(1, disk.ForkMain, 0, got))
	assert.Equal(t, uint16(1), got.MaxOffNo())
}

func TestEvictAllPinned(t *testing.T) {
	pool, dm := newTestPool(t, 1)
	extendOne(t, dm, 1)
	extendOne(t, dm, 1)

	b, err := pool.ReadBuffer(1, disk.ForkMain, 0)
	require.NoError(t, err)
	defer pool.Release(b)

	_, err = pool.ReadBuffer(1, disk.ForkMain, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoUnpinnedBuffer)
}

func TestLockForCleanupWaitsForPins(t *testing.T) {
	pool, dm := newTestPool(t, 4)
	blk := extendOne(t, dm, 1)

	holder, err := pool.ReadBuffer(1, disk.ForkMain, blk)
	require.NoError(t, err)

	cleaner, err := pool.ReadBuffer(1, disk.ForkMain, blk)
	require.NoError(t, err)

	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		cleaner.LockForCleanup()
		acquired.Store(true)
		close(done)
	}()

	// 其他pin未释放前清理锁必须等待
	time.Sleep(50 * time.Millisecond)
	assert.False(t, acquired.Load())

	pool.Release(holder)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup lock not granted after pin released")
	}
	assert.True(t, acquired.Load())
	pool.UnlockRelease(cleaner)
}

func TestReadBufferErrorNotCached(t *testing.T) {
	pool, dm, dir := newTestPoolDir(t, 4)
	extendOne(t, dm, 1)

	good := page.New()
	_, ok := good.AddItem([]byte("good"))
	require.True(t, ok)
	require.NoError(t, dm.WritePage(1, disk.ForkMain, 0, good))

	// 绕过WritePage写入坏校验和的页面
	bad := page.New()
	_, ok = bad.AddItem([]byte("bad"))
	require.True(t, ok)
	bad.UpdateChecksum()
	bad[page.Size-1] ^= 0xFF
	f, err := os.OpenFile(filepath.Join(dir, "1.main"), os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt(bad, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// 装载失败不留下任何缓冲，重复读取仍然报错而不是命中半成品
	_, err = pool.ReadBuffer(1, disk.ForkMain, 0)
	require.Error(t, err)
	_, err = pool.ReadBuffer(1, disk.ForkMain, 0)
	require.Error(t, err)

	// 磁盘恢复后同一个tag能正常读出
	require.NoError(t, dm.WritePage(1, disk.ForkMain, 0, good))
	b, err := pool.ReadBuffer(1, disk.ForkMain, 0)
	require.NoError(t, err)
	b.RLock()
	assert.Equal(t, uint16(1), b.Page().MaxOffNo())
	b.RUnlock()
	pool.Release(b)
}

func TestConcurrentReadersSeeLoadedPage(t *testing.T) {
	pool, dm := newTestPool(t, 1)

	contents := [][]byte{[]byte("page-zero"), []byte("page-one!")}
	for i, data := range contents {
		extendOne(t, dm, 1)
		p := page.New()
		_, ok := p.AddItem(data)
		require.True(t, ok)
		require.NoError(t, dm.WritePage(1, disk.ForkMain, uint32(i), p))
	}

	// 容量为1的池在两页之间反复驱逐和装载
	// 任何读者都不允许看到装载到一半的页面
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for g := 0; g < 4; g++ {
		g := g
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				pageNo := uint32((g + i) % 2)
				b, err := pool.ReadBuffer(1, disk.ForkMain, pageNo)
				if err != nil {
					errs <- err
					return
				}
				b.RLock()
				id := b.Page().ItemID(1)
				okItem := id.IsNormal() && string(b.Page().Item(id)) == string(contents[pageNo])
				b.RUnlock()
				pool.Release(b)
				if !okItem {
					errs <- fmt.Errorf("reader saw partially loaded page %d", pageNo)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestFlushAll(t *testing.T) {
	pool, dm := newTestPool(t, 4)
	extendOne(t, dm, 2)

	b, err := pool.ReadBuffer(2, disk.ForkMain, 0)
	require.NoError(t, err)
	b.Lock()
	b.Page().Init()
	_, ok := b.Page().AddItem([]byte("flushed"))
	require.True(t, ok)
	b.MarkDirty()
	b.Unlock()
	pool.Release(b)

	require.NoError(t, pool.FlushAll())

	got := page.New()
	require.NoError(t, dm.ReadPage(2, disk.ForkMain, 0, got))
	assert.Equal(t, uint16(1), got.MaxOffNo())
	assert.False(t, b.IsDirty())
}
