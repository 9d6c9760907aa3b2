package command

import (
	"strconv"
	"time"

	"go.uber.org/multierr"

	"github.com/deskpet/pet-gateway/internal/core/storage/engine"
	"github.com/deskpet/pet-gateway/internal/core/storage/kv"
)

const (
	commandPrefix = "c/"
	sentPrefix    = "cs/"
)

// record 存储中的指令
//
// EarlyAck 保存分发尚未落定 SENT 时就已到达的回执，
// 分发结果写入 SENT 的同一事务中再应用。
type record struct {
	Command
	EarlyAck *Ack `json:"earlyAck,omitempty"`
}

// Store 指令存储
//
// 指令记录在 c/<reqId>，处于 SENT 的指令另有索引 cs/<reqId>，
// 值为 updatedAt 的纳秒时间戳，超时扫描只遍历索引。
type Store struct {
	kv *kv.Store
}

// NewStore 创建指令存储
func NewStore(eng engine.Engine) *Store {
	return &Store{kv: kv.New(eng, nil)}
}

func commandKey(reqID string) []byte { return []byte(commandPrefix + reqID) }
func sentKey(reqID string) []byte    { return []byte(sentPrefix + reqID) }

// Insert 写入新指令
func (s *Store) Insert(cmd Command) error {
	return s.kv.Update(func(tx *kv.Transaction) error {
		if _, err := tx.Get(commandKey(cmd.ReqID)); err == nil {
			return ErrExists
		} else if !engine.IsNotFound(err) {
			return err
		}
		return s.write(tx, &record{Command: cmd}, "")
	})
}

// Get 读取指令
func (s *Store) Get(reqID string) (*Command, error) {
	var rec record
	if err := s.kv.GetJSON(commandKey(reqID), &rec); err != nil {
		if engine.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec.Command, nil
}

// mutator 在事务内修改记录，返回 false 表示不做变更
type mutator func(rec *record) bool

// Transition 原子地读取、修改并写回一条指令
//
// 返回修改后的指令与是否发生变更。fn 可能因事务冲突被多次调用，
// 每次调用拿到的都是重新读取的记录。
func (s *Store) Transition(reqID string, fn mutator) (*Command, bool, error) {
	var (
		out     Command
		changed bool
	)
	err := s.kv.Update(func(tx *kv.Transaction) error {
		var rec record
		if err := tx.GetJSON(commandKey(reqID), &rec); err != nil {
			if engine.IsNotFound(err) {
				return ErrNotFound
			}
			return err
		}
		prev := rec.Status
		changed = fn(&rec)
		out = rec.Command
		if !changed {
			return nil
		}
		return s.write(tx, &rec, prev)
	})
	if err != nil {
		return nil, false, err
	}
	return &out, changed, nil
}

// write 写入记录并维护 SENT 索引
func (s *Store) write(tx *kv.Transaction, rec *record, prev Status) error {
	if err := tx.SetJSON(commandKey(rec.ReqID), rec); err != nil {
		return err
	}
	switch {
	case rec.Status == StatusSent:
		return tx.Set(sentKey(rec.ReqID), []byte(strconv.FormatInt(rec.UpdatedAt.UnixNano(), 10)))
	case prev == StatusSent:
		return tx.Delete(sentKey(rec.ReqID))
	}
	return nil
}

// SentBefore 返回 updatedAt 早于 cutoff 的 SENT 指令 reqId
func (s *Store) SentBefore(cutoff time.Time) ([]string, error) {
	var ids []string
	var parseErr error
	err := s.kv.PrefixScan([]byte(sentPrefix), func(key, value []byte) bool {
		nanos, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil {
			parseErr = multierr.Append(parseErr, err)
			return true
		}
		if time.Unix(0, nanos).Before(cutoff) {
			ids = append(ids, string(key[len(sentPrefix):]))
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return ids, parseErr
}
