package streamio

import "errors"

var (
	// ErrDestroyed 调用Destroy时未指定错误, 读取器以此失败.
	ErrDestroyed = errors.New("stream reader destroyed")
	// ErrConcurrentPull 已有Pull在等待数据时, 再次调用Pull返回此错误.
	ErrConcurrentPull = errors.New("stream reader: concurrent pull is not allowed")
	// ErrPrematureClose 数据源在正常结束前被无错误地销毁.
	ErrPrematureClose = errors.New("premature close")
	// ErrClosed 通过AsReader关闭读取器.
	ErrClosed = errors.New("stream reader closed")
)
