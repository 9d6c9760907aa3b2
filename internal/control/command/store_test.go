package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskpet/pet-gateway/internal/core/storage/engine"
	"github.com/deskpet/pet-gateway/internal/core/storage/engine/badger"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	eng, err := badger.New(engine.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return NewStore(eng)
}

// TestStore_InsertGet 测试写入与读取
func TestStore_InsertGet(t *testing.T) {
	s := newStore(t)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	cmd := Command{ReqID: "r1", DeviceID: "pet001", Type: "move", Status: StatusPending, CreatedAt: now, UpdatedAt: now}

	require.NoError(t, s.Insert(cmd))
	assert.ErrorIs(t, s.Insert(cmd), ErrExists)

	got, err := s.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "pet001", got.DeviceID)
	assert.True(t, now.Equal(got.CreatedAt))

	_, err = s.Get("r2")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestStore_SentIndex 测试 SENT 索引随状态维护
func TestStore_SentIndex(t *testing.T) {
	s := newStore(t)
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	for _, id := range []string{"r1", "r2"} {
		require.NoError(t, s.Insert(Command{ReqID: id, DeviceID: "pet001", Status: StatusPending, CreatedAt: t0, UpdatedAt: t0}))
	}
	toSent := func(at time.Time) mutator {
		return func(rec *record) bool {
			rec.Status = StatusSent
			rec.UpdatedAt = at
			return true
		}
	}
	_, changed, err := s.Transition("r1", toSent(t0))
	require.NoError(t, err)
	assert.True(t, changed)
	_, _, err = s.Transition("r2", toSent(t0.Add(5*time.Second)))
	require.NoError(t, err)

	ids, err := s.SentBefore(t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, ids)

	ids, err = s.SentBefore(t0.Add(time.Minute))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r1", "r2"}, ids)

	_, _, err = s.Transition("r1", func(rec *record) bool {
		rec.Status = StatusAcked
		return true
	})
	require.NoError(t, err)
	ids, err = s.SentBefore(t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"r2"}, ids, "离开 SENT 后移出索引")

	_, changed, err = s.Transition("r2", func(*record) bool { return false })
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = s.Transition("missing", func(*record) bool { return true })
	assert.ErrorIs(t, err, ErrNotFound)

	t.Log("✅ SENT 索引维护正常")
}
