package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskpet/pet-gateway/internal/core/storage/engine"
	"github.com/deskpet/pet-gateway/internal/core/storage/engine/badger"
)

// testEngine 创建内存引擎
func testEngine(t *testing.T) engine.Engine {
	t.Helper()
	eng, err := badger.New(engine.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TestStore_PrefixIsolation 测试前缀隔离
func TestStore_PrefixIsolation(t *testing.T) {
	eng := testEngine(t)
	a := New(eng, []byte("a/"))
	b := New(eng, []byte("b/"))

	require.NoError(t, a.Put([]byte("k"), []byte("from-a")))
	require.NoError(t, b.Put([]byte("k"), []byte("from-b")))

	got, err := a.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "from-a", string(got))

	raw, err := eng.Get([]byte("b/k"))
	require.NoError(t, err)
	assert.Equal(t, "from-b", string(raw))

	require.NoError(t, a.Delete([]byte("k")))
	_, err = a.Get([]byte("k"))
	assert.True(t, engine.IsNotFound(err))

	t.Log("✅ 前缀隔离正常")
}

// TestStore_JSON 测试 JSON 读写
func TestStore_JSON(t *testing.T) {
	s := New(testEngine(t), []byte("r/"))

	require.NoError(t, s.PutJSON([]byte("x"), record{Name: "x", Count: 3}))
	var got record
	require.NoError(t, s.GetJSON([]byte("x"), &got))
	assert.Equal(t, record{Name: "x", Count: 3}, got)

	assert.True(t, engine.IsNotFound(s.GetJSON([]byte("missing"), &got)))
}

// TestStore_PrefixScan 测试遍历与提前终止
func TestStore_PrefixScan(t *testing.T) {
	s := New(testEngine(t), []byte("e/"))
	for _, k := range []string{"pet001/1", "pet001/2", "pet002/1"} {
		require.NoError(t, s.Put([]byte(k), []byte(k)))
	}

	var keys []string
	require.NoError(t, s.PrefixScan([]byte("pet001/"), func(key, _ []byte) bool {
		keys = append(keys, string(key))
		return true
	}))
	assert.Equal(t, []string{"pet001/1", "pet001/2"}, keys, "返回的键已去掉 Store 前缀")

	n := 0
	require.NoError(t, s.PrefixScan(nil, func(_, _ []byte) bool {
		n++
		return false
	}))
	assert.Equal(t, 1, n)
}

// TestStore_UpdateAtomic 测试事务内多键读改写
func TestStore_UpdateAtomic(t *testing.T) {
	s := New(testEngine(t), nil)

	require.NoError(t, s.Update(func(tx *Transaction) error {
		if err := tx.SetJSON([]byte("c/r1"), record{Name: "r1"}); err != nil {
			return err
		}
		return tx.Set([]byte("cs/r1"), nil)
	}))

	require.NoError(t, s.Update(func(tx *Transaction) error {
		var r record
		if err := tx.GetJSON([]byte("c/r1"), &r); err != nil {
			return err
		}
		r.Count++
		if err := tx.SetJSON([]byte("c/r1"), r); err != nil {
			return err
		}
		return tx.Delete([]byte("cs/r1"))
	}))

	var r record
	require.NoError(t, s.GetJSON([]byte("c/r1"), &r))
	assert.Equal(t, 1, r.Count)
	_, err := s.Get([]byte("cs/r1"))
	assert.True(t, engine.IsNotFound(err))

	sub := s.SubStore([]byte("c/"))
	assert.Equal(t, []byte("c/"), sub.Prefix())
	require.NoError(t, sub.View(func(tx *Transaction) error {
		_, err := tx.Get([]byte("r1"))
		return err
	}))

	t.Log("✅ 事务内读改写正常")
}
