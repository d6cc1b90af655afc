package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xheap-surgery/server/conf"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/catalog"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/tuple"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/txid"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/vm"
)

func testCfg(t *testing.T) *conf.Cfg {
	dir := t.TempDir()
	cfg := conf.NewCfg()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.RedoDir = filepath.Join(dir, "redo")
	cfg.BufferPoolPages = 16
	return cfg
}

func newTestEngine(t *testing.T) *Engine {
	e, err := Open(testCfg(t))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestInsertAndScan(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateRelation("accounts", catalog.KindTable, catalog.Permanent)
	require.NoError(t, err)

	want := [][]byte{[]byte("alice"), []byte("bob"), []byte("carol")}
	var tids []tuple.TID
	for _, data := range want {
		tid, err := e.InsertTuple(ctx, "accounts", data)
		require.NoError(t, err)
		tids = append(tids, tid)
	}
	assert.Equal(t, tuple.NewTID(0, 1), tids[0])
	assert.Equal(t, tuple.NewTID(0, 3), tids[2])

	rows, err := e.ScanVisible(ctx, "accounts")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, tids[i], row.TID)
		assert.Equal(t, want[i], row.Data)
	}
}

func TestInsertExtendsPages(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	rel, err := e.CreateRelation("wide", catalog.KindTable, catalog.Permanent)
	require.NoError(t, err)

	// 每行约3KB，一页放不下三行
	big := make([]byte, 3000)
	for i := 0; i < 5; i++ {
		_, err := e.InsertTuple(ctx, "wide", big)
		require.NoError(t, err)
	}

	nblocks, err := e.NBlocks(rel)
	require.NoError(t, err)
	assert.Greater(t, nblocks, uint32(1))

	rows, err := e.ScanVisible(ctx, "wide")
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}

func TestReadTupleInfo(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateRelation("t", catalog.KindTable, catalog.Permanent)
	require.NoError(t, err)

	tid, err := e.InsertTuple(ctx, "t", []byte("row"))
	require.NoError(t, err)

	info, err := e.ReadTupleInfo(ctx, "t", tid)
	require.NoError(t, err)
	assert.True(t, info.Xmin.IsNormal())
	assert.Equal(t, txid.Invalid, info.Xmax)
	assert.Equal(t, tid, info.Ctid)
	assert.NotZero(t, info.Infomask&tuple.XminCommitted)

	_, err = e.ReadTupleInfo(ctx, "t", tuple.NewTID(0, 99))
	assert.Error(t, err)
}

func TestSetAllVisible(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateRelation("t", catalog.KindTable, catalog.Permanent)
	require.NoError(t, err)
	_, err = e.InsertTuple(ctx, "t", []byte("row"))
	require.NoError(t, err)

	status, err := e.VMStatus(ctx, "t", 0)
	require.NoError(t, err)
	assert.Zero(t, status&vm.StatusAllVisible)

	require.NoError(t, e.SetAllVisible(ctx, "t"))

	status, err = e.VMStatus(ctx, "t", 0)
	require.NoError(t, err)
	assert.NotZero(t, status&vm.StatusAllVisible)

	// 新插入的行撤销摘要位
	_, err = e.InsertTuple(ctx, "t", []byte("newer"))
	require.NoError(t, err)
	status, err = e.VMStatus(ctx, "t", 0)
	require.NoError(t, err)
	assert.Zero(t, status&vm.StatusAllVisible)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	cfg := testCfg(t)
	ctx := context.Background()

	e, err := Open(cfg)
	require.NoError(t, err)
	_, err = e.CreateRelation("t", catalog.KindTable, catalog.Permanent)
	require.NoError(t, err)
	tid, err := e.InsertTuple(ctx, "t", []byte("durable"))
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e2, err := Open(cfg)
	require.NoError(t, err)
	defer e2.Close()

	rows, err := e2.ScanVisible(ctx, "t")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, tid, rows[0].TID)
	assert.Equal(t, []byte("durable"), rows[0].Data)
}

func TestRecoverFromRedoAfterBufferLoss(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	rel, err := e.CreateRelation("t", catalog.KindTable, catalog.Permanent)
	require.NoError(t, err)
	_, err = e.InsertTuple(ctx, "t", []byte("survivor"))
	require.NoError(t, err)

	// 脏页未刷盘即丢弃，模拟宕机后仅剩重做日志
	e.Pool().DropRelation(rel.ID)
	require.NoError(t, e.Recover())

	rows, err := e.ScanVisible(ctx, "t")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []byte("survivor"), rows[0].Data)
}

func TestSessionUser(t *testing.T) {
	e := newTestEngine(t)

	u := e.CurrentUser()
	assert.Equal(t, uint32(10), u.UserID)
	assert.False(t, u.Superuser)

	e.SetSessionUser(99, true)
	u = e.CurrentUser()
	assert.Equal(t, uint32(99), u.UserID)
	assert.True(t, u.Superuser)
}
