package redo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xheap-surgery/server/heap/disk"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/page"
)

func makeImage(t *testing.T, payload string) page.Page {
	p := page.New()
	_, ok := p.AddItem([]byte(payload))
	require.True(t, ok)
	return p
}

func TestAppendFlushReplay(t *testing.T) {
	dir := t.TempDir()

	m, err := NewManager(dir, 16)
	require.NoError(t, err)

	img1 := makeImage(t, "first")
	img2 := makeImage(t, "second")

	lsn1, err := m.AppendPageImage(5, disk.ForkMain, 0, img1)
	require.NoError(t, err)
	lsn2, err := m.AppendPageImage(5, disk.ForkVM, 3, img2)
	require.NoError(t, err)
	assert.Greater(t, lsn2, lsn1)

	require.NoError(t, m.Flush(lsn2))
	assert.GreaterOrEqual(t, m.FlushedLSN(), lsn2)
	require.NoError(t, m.Close())

	// 重新打开并回放
	m2, err := NewManager(dir, 16)
	require.NoError(t, err)
	defer m2.Close()

	var records []*Record
	require.NoError(t, m2.Replay(func(r *Record) error {
		records = append(records, r)
		return nil
	}))

	require.Len(t, records, 2)
	assert.Equal(t, lsn1, records[0].LSN)
	assert.Equal(t, uint32(5), records[0].RelID)
	assert.Equal(t, disk.ForkMain, records[0].Fork)
	assert.Equal(t, uint32(0), records[0].PageNo)
	assert.Equal(t, []byte(img1), []byte(records[0].Image))

	assert.Equal(t, disk.ForkVM, records[1].Fork)
	assert.Equal(t, uint32(3), records[1].PageNo)
	assert.Equal(t, []byte(img2), []byte(records[1].Image))

	// 回放后LSN续接在旧日志之后
	lsn3, err := m2.AppendPageImage(5, disk.ForkMain, 1, img1)
	require.NoError(t, err)
	assert.Greater(t, lsn3, lsn2)
}

func replayLSNs(t *testing.T, m *Manager) []uint64 {
	var lsns []uint64
	require.NoError(t, m.Replay(func(r *Record) error {
		lsns = append(lsns, r.LSN)
		return nil
	}))
	return lsns
}

func TestReplayTruncatesTornTail(t *testing.T) {
	dir := t.TempDir()

	m, err := NewManager(dir, 16)
	require.NoError(t, err)
	img1 := makeImage(t, "one")
	lsn1, err := m.AppendPageImage(1, disk.ForkMain, 0, img1)
	require.NoError(t, err)
	require.NoError(t, m.Flush(lsn1))
	require.NoError(t, m.Close())

	// 模拟崩溃时只写了一半的记录
	logPath := filepath.Join(dir, "redo.log")
	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	m2, err := NewManager(dir, 16)
	require.NoError(t, err)
	assert.Equal(t, []uint64{lsn1}, replayLSNs(t, m2))

	// 残留字节必须已被截掉
	stat, err := os.Stat(logPath)
	require.NoError(t, err)
	tornSize := stat.Size()

	// 恢复后落盘的记录不能藏在残留字节后面
	img2 := makeImage(t, "two")
	lsn2, err := m2.AppendPageImage(2, disk.ForkMain, 0, img2)
	require.NoError(t, err)
	require.NoError(t, m2.Flush(lsn2))
	require.NoError(t, m2.Close())

	stat, err = os.Stat(logPath)
	require.NoError(t, err)
	assert.Greater(t, stat.Size(), tornSize)

	// 再次崩溃恢复，两条记录都必须可回放
	m3, err := NewManager(dir, 16)
	require.NoError(t, err)
	defer m3.Close()
	assert.Equal(t, []uint64{lsn1, lsn2}, replayLSNs(t, m3))
}

func TestFlushErrorSurfaces(t *testing.T) {
	m, err := NewManager(t.TempDir(), 16)
	require.NoError(t, err)
	defer close(m.stopChan)

	lsn, err := m.AppendPageImage(1, disk.ForkMain, 0, makeImage(t, "x"))
	require.NoError(t, err)

	// 日志文件写入失败时同步Flush必须报错
	require.NoError(t, m.logFile.Close())
	assert.Error(t, m.Flush(lsn))
}

func TestReplayEmptyLog(t *testing.T) {
	m, err := NewManager(t.TempDir(), 16)
	require.NoError(t, err)
	defer m.Close()

	called := false
	require.NoError(t, m.Replay(func(*Record) error {
		called = true
		return nil
	}))
	assert.False(t, called)
}
