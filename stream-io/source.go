package streamio

// Source 推模式数据源.
//
// 数据源自行决定推送节奏, 通过数据事件逐块交付数据, 并且只会产生一次终止事件
// (成功或失败). Pause/Resume用于背压控制.
//
// 实现需要满足:
//  1. 数据事件按产生顺序交付, 暂停期间不交付.
//  2. 观察者不会在注册调用内部被同步回调; 终止后注册的OnFinish观察者异步收到终止结果.
//  3. Destroy(err)在返回前发出错误事件和终止事件; Destroy(nil)以ErrPrematureClose终止.
//  4. 调用观察者时不持有数据源内部的锁.
type Source interface {
	// OnData 注册数据事件观察者, 返回的函数用于注销.
	OnData(fn func(chunk []byte)) (off func())
	// OnFinish 注册一次性的终止事件观察者, err为nil表示正常结束.
	OnFinish(fn func(err error)) (off func())
	// OnError 注册错误事件观察者.
	OnError(fn func(err error)) (off func())

	Pause()
	Resume()
	IsPaused() bool

	// Destroy 强制数据源进入终止状态.
	Destroy(err error)

	// HighWaterMark 返回数据源配置的背压阈值, 单位byte.
	HighWaterMark() int
}
