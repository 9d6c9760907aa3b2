package session

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct{ name string }

// TestTable_PutGet 测试创建与查询
func TestTable_PutGet(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))
	tbl := NewTable(clk)

	conn := &fakeConn{"a"}
	s, replaced := tbl.Put("pet001", conn, "10.0.0.1:5000")
	require.Nil(t, replaced)
	assert.Equal(t, "pet001", s.DeviceID)
	assert.Equal(t, clk.Now(), s.ConnectedAt)
	assert.Equal(t, clk.Now(), s.LastActive())

	got, ok := tbl.Get("pet001")
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, tbl.Len())

	t.Log("✅ 会话创建成功")
}

// TestTable_Touch 测试刷新活动时间
func TestTable_Touch(t *testing.T) {
	clk := clock.NewMock()
	tbl := NewTable(clk)
	s, _ := tbl.Put("pet001", &fakeConn{}, "")

	clk.Add(5 * time.Second)
	tbl.Touch("pet001")
	tbl.Touch("unknown")

	assert.Equal(t, clk.Now(), s.LastActive())
	assert.Equal(t, 5*time.Second, s.LastActive().Sub(s.ConnectedAt))
}

// TestTable_RemoveOnlyOwnConn 测试只删除属于自己的会话
func TestTable_RemoveOnlyOwnConn(t *testing.T) {
	tbl := NewTable(nil)
	oldConn, newConn := &fakeConn{"old"}, &fakeConn{"new"}

	tbl.Put("pet001", oldConn, "")
	_, replaced := tbl.Put("pet001", newConn, "")
	require.NotNil(t, replaced)
	assert.Same(t, oldConn, replaced.Conn)

	// 旧连接关闭不能删除新会话
	assert.False(t, tbl.Remove("pet001", oldConn))
	_, ok := tbl.Get("pet001")
	assert.True(t, ok)

	assert.True(t, tbl.Remove("pet001", newConn))
	assert.False(t, tbl.Remove("pet001", newConn))
	assert.Equal(t, 0, tbl.Len())

	t.Log("✅ 条件删除正确")
}

// TestTable_Snapshot 测试快照
func TestTable_Snapshot(t *testing.T) {
	tbl := NewTable(nil)
	tbl.Put("a", &fakeConn{}, "")
	tbl.Put("b", &fakeConn{}, "")

	snap := tbl.Snapshot()
	assert.Len(t, snap, 2)

	tbl.Remove("a", snap[0].Conn)
	assert.Len(t, snap, 2, "快照不受后续修改影响")
}
