package repository

import (
	"errors"
)

var (
	// ErrNotFound 目标键没有对应的计数记录
	ErrNotFound = errors.New("计数记录不存在")

	// ErrDuplicateKey 唯一索引冲突，说明并发请求已经创建了同键记录
	// 由上层的竞态恢复流程消化，不直接暴露给客户端
	ErrDuplicateKey = errors.New("计数记录唯一键冲突")
)
