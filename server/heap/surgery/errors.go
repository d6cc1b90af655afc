package surgery

import "errors"

// 调用级错误，任何一个都会在触碰页面之前终止整个调用
var (
	// ErrRecoveryInProgress 引擎正在回放重做日志，禁止行修复
	ErrRecoveryInProgress = errors.New("recovery is in progress, heap surgery functions cannot be executed during recovery")
	// ErrNullTidEntry tid列表包含null成员
	ErrNullTidEntry = errors.New("array must not contain nulls")
	// ErrEmptyTidList tid列表为空
	ErrEmptyTidList = errors.New("empty tid array")
	// ErrUnsupportedRelKind 目标对象类型不支持行修复
	ErrUnsupportedRelKind = errors.New("relation is not a table, materialized view, or toast table")
	// ErrNotOwner 调用者既不是表的owner也不是超级用户
	ErrNotOwner = errors.New("must be owner of relation")
)
