package streamio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	KB = 1024
	MB = 1024 * KB
)

// sizedSource 产出total字节的数据源, 每块16KB.
func sizedSource(total int) *Emitter {
	remaining := total
	return NewEmitter(func() ([]byte, error) {
		if remaining == 0 {
			return nil, io.EOF
		}
		size := 16 * KB
		if size > remaining {
			size = remaining
		}
		remaining -= size
		return make([]byte, size), nil
	}, nil)
}

func TestReadAll(t *testing.T) {
	ctx := context.Background()
	src := sizedSource(10 * MB)
	r := NewStreamReader(src)

	readLen := 0
	chunks := 0
	for {
		chunk, err := r.Pull(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		readLen += len(chunk)
		chunks++

		_, buffered := r.Buffered()
		assert.True(t, buffered <= r.HighWaterMark()+16*KB)
	}
	assert.Equal(t, 10*MB, readLen)
	assert.Equal(t, 640, chunks)

	_, err := r.Pull(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestForceDestroySource(t *testing.T) {
	forceErr := errors.New("Force destroyed")

	t.Run("until read", func(t *testing.T) {
		ctx := context.Background()
		src := sizedSource(10 * MB)
		r := NewStreamReader(src)

		readLen := 0
		var err error
		for {
			ch := pullAsync(ctx, r)
			if readLen > 5*MB {
				src.Destroy(forceErr)
			}
			res := receive(t, ch)
			if res.err != nil {
				err = res.err
				break
			}
			readLen += len(res.chunk)
		}
		require.Error(t, err)
		assert.Equal(t, "Force destroyed", err.Error())
	})

	t.Run("after read", func(t *testing.T) {
		ctx := context.Background()
		src := sizedSource(10 * MB)
		r := NewStreamReader(src)

		readLen := 0
		var err error
		for {
			var chunk []byte
			chunk, err = r.Pull(ctx)
			if readLen > 5*MB {
				src.Destroy(forceErr)
			}
			if err != nil {
				break
			}
			readLen += len(chunk)
		}
		assert.Equal(t, forceErr, err)
	})

	t.Run("before read", func(t *testing.T) {
		ctx := context.Background()
		src := sizedSource(10 * MB)
		r := NewStreamReader(src)

		readLen := 0
		var err error
		for {
			if readLen > 5*MB {
				src.Destroy(forceErr)
			}
			var chunk []byte
			chunk, err = r.Pull(ctx)
			if err != nil {
				break
			}
			readLen += len(chunk)
		}
		assert.Equal(t, forceErr, err)
		assert.True(t, readLen > 5*MB)
		assert.True(t, readLen < 10*MB)
	})
}

func TestDestroyReader(t *testing.T) {
	aborted := errors.New("Aborted")

	t.Run("until read", func(t *testing.T) {
		ctx := context.Background()
		src := sizedSource(10 * MB)
		r := NewStreamReader(src)

		readLen := 0
		var err error
		for {
			ch := pullAsync(ctx, r)
			if readLen > 5*MB {
				r.Destroy(aborted)
			}
			res := receive(t, ch)
			if res.err != nil {
				err = res.err
				break
			}
			readLen += len(res.chunk)
		}
		require.Error(t, err)
		assert.Equal(t, "Aborted", err.Error())
		assert.True(t, src.Destroyed())
	})

	t.Run("before read", func(t *testing.T) {
		ctx := context.Background()
		src := sizedSource(10 * MB)
		r := NewStreamReader(src)

		readLen := 0
		var err error
		for {
			if readLen > 5*MB {
				r.Destroy(aborted)
			}
			var chunk []byte
			chunk, err = r.Pull(ctx)
			if err != nil {
				break
			}
			readLen += len(chunk)
		}
		assert.Equal(t, aborted, err)
	})

	t.Run("after read", func(t *testing.T) {
		ctx := context.Background()
		src := sizedSource(10 * MB)
		r := NewStreamReader(src)

		readLen := 0
		var err error
		for {
			var chunk []byte
			chunk, err = r.Pull(ctx)
			if err != nil {
				break
			}
			readLen += len(chunk)
			if readLen > 5*MB {
				r.Destroy(aborted)
			}
		}
		assert.Equal(t, aborted, err)
		assert.True(t, src.Destroyed())
	})
}

func TestDestroyReaderSuppressesSourceError(t *testing.T) {
	var buf bytes.Buffer
	old := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = old }()

	r := NewStreamReader(sizedSource(MB))
	r.Destroy(errors.New("Aborted"))
	assert.NotContains(t, buf.String(), "unhandled source error")

	// 没有任何观察者时, 销毁数据源的错误无人处理
	src := sizedSource(MB)
	src.Destroy(errors.New("nobody listens"))
	assert.Contains(t, buf.String(), "unhandled source error")
	assert.Contains(t, buf.String(), "nobody listens")
}

func TestEmitterStartsPaused(t *testing.T) {
	var calls int32
	src := NewEmitter(func() ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("x"), nil
	}, nil)
	defer src.Destroy(nil)

	assert.True(t, src.IsPaused())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	got := make(chan []byte, 1)
	off := src.OnData(func(chunk []byte) {
		select {
		case got <- chunk:
		default:
		}
	})
	defer off()

	select {
	case chunk := <-got:
		assert.Equal(t, []byte("x"), chunk)
	case <-time.After(time.Second):
		t.Fatal("emitter did not start flowing")
	}
}

func TestEmitterPause(t *testing.T) {
	var delivered int32
	src := NewEmitter(func() ([]byte, error) {
		return []byte("x"), nil
	}, &EmitterCfg{HighWaterMark: 8})
	defer src.Destroy(nil)
	assert.Equal(t, 8, src.HighWaterMark())

	src.OnData(func([]byte) {
		if atomic.AddInt32(&delivered, 1) == 5 {
			src.Pause()
		}
	})

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&delivered) >= 5
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(5), atomic.LoadInt32(&delivered))
	assert.True(t, src.IsPaused())

	src.Resume()
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&delivered) > 5
	}, time.Second, time.Millisecond)
}

func TestEmitterTerminalEvents(t *testing.T) {
	t.Run("chunk func error", func(t *testing.T) {
		boom := errors.New("boom")
		src := NewEmitter(func() ([]byte, error) {
			return nil, boom
		}, nil)

		errCh := make(chan error, 1)
		finCh := make(chan error, 1)
		src.OnError(func(err error) { errCh <- err })
		src.OnFinish(func(err error) { finCh <- err })
		src.OnData(func([]byte) {})

		assert.Equal(t, boom, <-errCh)
		assert.Equal(t, boom, <-finCh)
	})

	t.Run("destroy without error", func(t *testing.T) {
		src := NewEmitter(func() ([]byte, error) {
			return nil, io.EOF
		}, nil)

		var errs int32
		src.OnError(func(error) { atomic.AddInt32(&errs, 1) })
		finCh := make(chan error, 1)
		src.OnFinish(func(err error) { finCh <- err })

		src.Destroy(nil)
		assert.Equal(t, ErrPrematureClose, <-finCh)
		assert.Equal(t, int32(0), atomic.LoadInt32(&errs))
		assert.True(t, src.Destroyed())
	})

	t.Run("finish observer after end", func(t *testing.T) {
		src := NewEmitter(func() ([]byte, error) {
			return nil, io.EOF
		}, nil)
		first := make(chan error, 1)
		src.OnFinish(func(err error) { first <- err })
		src.OnData(func([]byte) {})
		assert.NoError(t, <-first)

		late := make(chan error, 1)
		src.OnFinish(func(err error) { late <- err })
		select {
		case err := <-late:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("late finish observer was not called")
		}
	})

	t.Run("destroy unblocks chunk func", func(t *testing.T) {
		unblock := make(chan struct{})
		src := NewEmitter(func() ([]byte, error) {
			<-unblock
			return nil, errors.New("closed")
		}, &EmitterCfg{Closer: func() error {
			close(unblock)
			return nil
		}})

		r := NewStreamReader(src)
		ch := pullAsync(context.Background(), r)
		waitPending(t, r)
		r.Destroy(nil)

		res := receive(t, ch)
		assert.Equal(t, ErrDestroyed, res.err)
	})
}
