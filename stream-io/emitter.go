package streamio

import (
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultHighWaterMark 默认的背压阈值, 单位byte.
	DefaultHighWaterMark = 16 * 1024
)

// ChunkFunc 产出下一个数据块, 返回io.EOF表示数据已全部产出.
type ChunkFunc func() ([]byte, error)

// EmitterCfg Emitter配置
type EmitterCfg struct {
	HighWaterMark int `json:"high_water_mark"`
	// Closer 在Destroy时调用, 用于打断阻塞中的ChunkFunc.
	Closer func() error `json:"-"`
}

type observer struct {
	id   int
	data func([]byte)
	done func(error)
}

// Emitter 由ChunkFunc驱动的推模式数据源, 实现Source.
//
// 后台协程只在流动状态下调用ChunkFunc并交付数据. Emitter初始处于暂停状态,
// 第一个数据观察者注册后开始流动.
type Emitter struct {
	mu   sync.Mutex
	cond *sync.Cond

	next   ChunkFunc
	closer func() error
	hwm    int

	started   bool
	flowing   bool
	destroyed bool
	finished  bool
	finalErr  error

	seq       int
	dataObs   []observer
	finishObs []observer
	errorObs  []observer
}

// NewEmitter 返回Emitter实例.
func NewEmitter(next ChunkFunc, cfg *EmitterCfg) *Emitter {
	if cfg == nil {
		cfg = &EmitterCfg{}
	}
	if cfg.HighWaterMark <= 0 {
		cfg.HighWaterMark = DefaultHighWaterMark
	}

	e := &Emitter{
		next:   next,
		closer: cfg.Closer,
		hwm:    cfg.HighWaterMark,
	}
	e.cond = sync.NewCond(&e.mu)
	go e.pump()
	return e
}

// OnData 注册数据事件观察者. 第一个观察者注册后数据源开始流动.
func (e *Emitter) OnData(fn func(chunk []byte)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.add(&e.dataObs, observer{data: fn})
	if !e.started && !e.destroyed {
		e.started = true
		e.flowing = true
		e.cond.Broadcast()
	}
	return func() { e.remove(&e.dataObs, id) }
}

// OnFinish 注册终止事件观察者. 数据源已经终止时, fn在新的协程中收到终止结果.
func (e *Emitter) OnFinish(fn func(err error)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finished {
		go fn(e.finalErr)
		return func() {}
	}
	id := e.add(&e.finishObs, observer{done: fn})
	return func() { e.remove(&e.finishObs, id) }
}

// OnError 注册错误事件观察者.
func (e *Emitter) OnError(fn func(err error)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.add(&e.errorObs, observer{done: fn})
	return func() { e.remove(&e.errorObs, id) }
}

// Pause 暂停交付数据.
func (e *Emitter) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.started = true
	e.flowing = false
}

// Resume 恢复交付数据.
func (e *Emitter) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.started = true
	if !e.flowing && !e.destroyed {
		e.flowing = true
		e.cond.Broadcast()
	}
}

// IsPaused 判断数据源当前是否处于暂停状态.
func (e *Emitter) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return !e.flowing
}

// HighWaterMark 返回背压阈值.
func (e *Emitter) HighWaterMark() int {
	return e.hwm
}

// Destroyed 判断数据源是否已被销毁.
func (e *Emitter) Destroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.destroyed
}

// Destroy 销毁数据源. err不为nil时先发出错误事件, 再发出终止事件; 重复调用无效.
func (e *Emitter) Destroy(err error) {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	e.flowing = false
	e.cond.Broadcast()
	e.mu.Unlock()

	if e.closer != nil {
		if cerr := e.closer(); cerr != nil {
			log.Debug().Err(cerr).Msg("failed to close source")
		}
	}

	if err == nil {
		e.terminate(ErrPrematureClose, nil)
		return
	}
	e.terminate(err, err)
}

func (e *Emitter) pump() {
	for {
		if !e.awaitFlowing() {
			return
		}
		chunk, err := e.next()
		// 被Destroy打断, 终止事件由Destroy发出
		if e.Destroyed() {
			return
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				e.terminate(nil, nil)
			} else {
				e.terminate(err, err)
			}
			return
		}
		if len(chunk) == 0 {
			continue
		}
		// 取数据期间可能被暂停
		if !e.awaitFlowing() {
			return
		}
		e.emitData(chunk)
	}
}

func (e *Emitter) awaitFlowing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for !e.flowing && !e.destroyed {
		e.cond.Wait()
	}
	return !e.destroyed
}

func (e *Emitter) emitData(chunk []byte) {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	obs := append([]observer(nil), e.dataObs...)
	e.mu.Unlock()

	for _, o := range obs {
		o.data(chunk)
	}
}

// terminate 发出终止事件, 只生效一次. emitErr不为nil时先发出错误事件.
func (e *Emitter) terminate(finalErr, emitErr error) {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return
	}
	e.finished = true
	e.finalErr = finalErr
	errObs := append([]observer(nil), e.errorObs...)
	finObs := e.finishObs
	e.finishObs = nil
	e.mu.Unlock()

	if emitErr != nil {
		if len(errObs) == 0 && len(finObs) == 0 {
			log.Error().Err(emitErr).Msg("unhandled source error")
		}
		for _, o := range errObs {
			o.done(emitErr)
		}
	}
	for _, o := range finObs {
		o.done(finalErr)
	}
}

func (e *Emitter) add(list *[]observer, o observer) int {
	e.seq++
	o.id = e.seq
	*list = append(*list, o)
	return o.id
}

func (e *Emitter) remove(list *[]observer, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, o := range *list {
		if o.id == id {
			*list = append((*list)[:i:i], (*list)[i+1:]...)
			return
		}
	}
}
