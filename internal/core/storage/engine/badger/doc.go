// Package badger 提供基于 BadgerDB 的存储引擎实现
//
// 支持磁盘与纯内存两种模式。读改写通过 Update 在乐观事务中完成，
// 提交冲突（badger.ErrConflict）时按配置次数重新执行。
//
//	cfg := engine.DefaultConfig("/data/pet-core")
//	db, err := badger.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
package badger
