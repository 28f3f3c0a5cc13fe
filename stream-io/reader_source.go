package streamio

import (
	"io"

	"github.com/usherasnick/stream-reader/tpsctrl"
)

const (
	__DefaultChunkSize = 16 * 1024
)

// ReaderSourceCfg 基于io.Reader的数据源配置
type ReaderSourceCfg struct {
	ChunkSize     int `json:"chunk_size"`      // 每次读取的最大字节数
	HighWaterMark int `json:"high_water_mark"` // 背压阈值, unit is byte
	BytesPerSec   int `json:"bytes_per_sec"`   // 读取限速, 0表示不限速
}

// NewReaderSource 返回从r中按块读取数据的推模式数据源.
// 如果r实现了io.Closer, 销毁数据源时会关闭r.
func NewReaderSource(r io.Reader, cfg *ReaderSourceCfg) *Emitter {
	if cfg == nil {
		cfg = &ReaderSourceCfg{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = __DefaultChunkSize
	}

	in := r
	if cfg.BytesPerSec > 0 {
		in = tpsctrl.NewTPSController(cfg.BytesPerSec).Throttle(r)
	}

	var pending error
	next := func() ([]byte, error) {
		if pending != nil {
			return nil, pending
		}
		// 数据块交给消费者后仍会被持有, 每次都需要新的缓冲区
		buf := make([]byte, cfg.ChunkSize)
		n, err := in.Read(buf)
		if err != nil {
			if n == 0 {
				return nil, err
			}
			pending = err
		}
		return buf[:n], nil
	}

	ecfg := &EmitterCfg{HighWaterMark: cfg.HighWaterMark}
	if c, ok := r.(io.Closer); ok {
		ecfg.Closer = c.Close
	}
	return NewEmitter(next, ecfg)
}
