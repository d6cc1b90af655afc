package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageInit(t *testing.T) {
	p := New()

	assert.True(t, p.IsInitialized())
	assert.Equal(t, uint16(0), p.MaxOffNo())
	assert.Equal(t, uint16(Size-HeaderSize), p.FreeSpace())
	assert.False(t, p.IsAllVisible())
}

func TestAddItem(t *testing.T) {
	p := New()

	off1, ok := p.AddItem([]byte("hello"))
	require.True(t, ok)
	assert.Equal(t, uint16(1), off1)

	off2, ok := p.AddItem([]byte("world!"))
	require.True(t, ok)
	assert.Equal(t, uint16(2), off2)
	assert.Equal(t, uint16(2), p.MaxOffNo())

	id1 := p.ItemID(off1)
	assert.True(t, id1.IsNormal())
	assert.Equal(t, []byte("hello"), p.Item(id1))

	id2 := p.ItemID(off2)
	assert.Equal(t, []byte("world!"), p.Item(id2))

	// 元组从页尾向前增长
	assert.Greater(t, id1.Offset(), id2.Offset())
}

func TestAddItemPageFull(t *testing.T) {
	p := New()
	big := make([]byte, 4000)

	_, ok := p.AddItem(big)
	require.True(t, ok)
	_, ok = p.AddItem(big)
	require.True(t, ok)

	// 第三条放不下，页面不应被改动
	before := p.MaxOffNo()
	_, ok = p.AddItem(big)
	assert.False(t, ok)
	assert.Equal(t, before, p.MaxOffNo())
}

func TestSetDead(t *testing.T) {
	p := New()
	off, ok := p.AddItem([]byte("doomed"))
	require.True(t, ok)

	p.SetDead(off)

	id := p.ItemID(off)
	assert.True(t, id.IsDead())
	assert.True(t, id.IsUsed())
	assert.False(t, id.IsNormal())
	// 死亡slot断开内容引用
	assert.Equal(t, uint32(0), id.Offset())
	assert.Equal(t, uint32(0), id.Length())
}

func TestAllVisibleFlag(t *testing.T) {
	p := New()

	p.SetAllVisible()
	assert.True(t, p.IsAllVisible())
	p.ClearAllVisible()
	assert.False(t, p.IsAllVisible())
}

func TestChecksum(t *testing.T) {
	p := New()
	_, ok := p.AddItem([]byte("checksummed"))
	require.True(t, ok)

	p.UpdateChecksum()
	assert.True(t, p.VerifyChecksum())

	// 篡改页面内容后校验必须失败
	p[Size-1] ^= 0xFF
	assert.False(t, p.VerifyChecksum())
}

func TestItemIDEncoding(t *testing.T) {
	t.Run("正常slot", func(t *testing.T) {
		id := NewItemID(8100, StateNormal, 123)
		assert.Equal(t, uint32(8100), id.Offset())
		assert.Equal(t, StateNormal, id.State())
		assert.Equal(t, uint32(123), id.Length())
	})

	t.Run("重定向slot", func(t *testing.T) {
		id := NewRedirect(7)
		assert.True(t, id.IsRedirect())
		assert.Equal(t, uint16(7), id.RedirectTarget())
	})

	t.Run("未使用slot", func(t *testing.T) {
		var id ItemID
		assert.False(t, id.IsUsed())
	})
}
