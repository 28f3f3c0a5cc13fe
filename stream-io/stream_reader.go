package streamio

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

type streamState int

const (
	stateActive streamState = iota
	stateEnded              // 数据源正常结束, 缓存可能仍有数据
	stateFailed
)

// StreamReader 将推模式数据源适配成拉模式读取器.
//
// 数据块按到达顺序交付. 缓存字节数达到背压阈值时暂停数据源, 消费后低于阈值时恢复.
// 读取器只支持单个消费者, 同一时刻只能有一个Pull调用.
type StreamReader struct {
	mu sync.Mutex

	src Source
	hwm int

	chunks  chunkQueue
	state   streamState
	failure error

	terminalReceived bool
	cancelled        bool
	pulling          bool
	wake             chan struct{} // 等待中的Pull, 最多一个

	offData   func()
	offFinish func()
}

// NewStreamReader 返回绑定到src的StreamReader实例.
// 读取器不拥有src, 正常结束后由调用方负责释放src.
func NewStreamReader(src Source) *StreamReader {
	r := &StreamReader{
		src: src,
		hwm: src.HighWaterMark(),
	}
	if r.hwm <= 0 {
		r.hwm = DefaultHighWaterMark
	}

	// 注册完成前回调会阻塞在锁上
	r.mu.Lock()
	r.offFinish = src.OnFinish(r.onFinish)
	r.offData = src.OnData(r.onData)
	r.mu.Unlock()

	return r
}

// Pull 拉取下一个数据块, 没有可用数据时挂起等待.
//
// 数据全部读完后返回io.EOF. 数据源失败或读取器被销毁后, 每次调用都返回同一个错误,
// 缓存中尚未读取的数据不再交付. ctx结束等同于调用Destroy(ctx.Err()).
// 已有Pull在进行时返回ErrConcurrentPull.
func (r *StreamReader) Pull(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pulling {
		return nil, ErrConcurrentPull
	}
	r.pulling = true
	defer func() { r.pulling = false }()

	for {
		if r.failure != nil {
			return nil, r.failure
		}
		if r.chunks.Len() > 0 {
			return r.shiftLocked(), nil
		}
		if r.state == stateEnded {
			return nil, io.EOF
		}

		wake := make(chan struct{})
		r.wake = wake
		// 消费者在等数据, 缓存已空, 不再需要背压
		if r.src.IsPaused() {
			r.src.Resume()
		}

		r.mu.Unlock()
		select {
		case <-wake:
		case <-ctx.Done():
			r.Destroy(ctx.Err())
		}
		r.mu.Lock()
	}
}

// Destroy 提前终止读取: 丢弃未读的缓存数据, 并以err销毁数据源.
//
// err为nil时使用ErrDestroyed. 正在等待的Pull会返回该错误.
// 读取器已经读完或已经失败时, 调用Destroy不产生任何效果.
func (r *StreamReader) Destroy(err error) {
	if err == nil {
		err = ErrDestroyed
	}

	r.mu.Lock()
	r.cancelled = true
	r.detachLocked()
	if r.failure != nil || (r.state == stateEnded && r.chunks.Len() == 0) {
		r.mu.Unlock()
		return
	}
	r.chunks.reset()
	r.failLocked(err)
	wake := r.wake
	r.wake = nil
	r.mu.Unlock()

	log.Debug().Err(err).Msg("destroy stream reader")

	if r.src.IsPaused() {
		r.src.Resume()
	}
	// 销毁数据源附带的错误事件不是根因, 只吞掉这一次
	off := r.src.OnError(func(error) {})
	r.src.Destroy(err)
	off()

	if wake != nil {
		close(wake)
	}
}

// Buffered 返回缓存中尚未读取的数据块数量和字节数.
func (r *StreamReader) Buffered() (chunks, bytes int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.chunks.Len(), r.chunks.bytes
}

// HighWaterMark 返回背压阈值.
func (r *StreamReader) HighWaterMark() int {
	return r.hwm
}

func (r *StreamReader) onData(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// 观察者注销前已经发出的事件
	if r.terminalReceived || r.cancelled {
		return
	}

	r.chunks.push(chunk)
	r.signalLocked()

	if r.chunks.bytes >= r.hwm {
		r.src.Pause()
	}
}

func (r *StreamReader) onFinish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.terminalReceived || r.cancelled {
		return
	}

	r.detachLocked()
	r.terminalReceived = true
	if err != nil {
		r.failLocked(err)
	} else {
		r.state = stateEnded
	}
	log.Debug().Err(err).Int("buffered", r.chunks.bytes).Msg("stream reader received terminal event")

	r.signalLocked()
}

func (r *StreamReader) shiftLocked() []byte {
	chunk := r.chunks.pop()
	if !r.terminalReceived && r.chunks.bytes < r.hwm && r.src.IsPaused() {
		r.src.Resume()
	}
	return chunk
}

func (r *StreamReader) failLocked(err error) {
	if r.failure != nil {
		return
	}
	r.failure = err
	r.state = stateFailed
}

func (r *StreamReader) signalLocked() {
	if r.wake != nil {
		close(r.wake)
		r.wake = nil
	}
}

func (r *StreamReader) detachLocked() {
	if r.offData != nil {
		r.offData()
		r.offData = nil
	}
	if r.offFinish != nil {
		r.offFinish()
		r.offFinish = nil
	}
}
