package kafka

import (
	"io"

	"github.com/Shopify/sarama"

	streamio "github.com/usherasnick/stream-reader/stream-io"
)

// PartitionConsumer 是PartitionSource用到的sarama.PartitionConsumer子集.
type PartitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	AsyncClose()
}

// SourceCfg 分区数据源配置
type SourceCfg struct {
	EndOffset     int64 `json:"end_offset"`
	HighWaterMark int   `json:"high_water_mark"`
}

// NewPartitionSource 将分区消费者包装成推模式数据源, 每条消息的Value作为一个数据块.
//
// 消息通道关闭或读到EndOffset-1后数据源正常结束, 收到消费错误时数据源失败.
// 销毁数据源会异步关闭pc.
func NewPartitionSource(pc PartitionConsumer, cfg *SourceCfg) *streamio.Emitter {
	if cfg == nil {
		cfg = &SourceCfg{}
	}
	p := &partitionPuller{
		messages:  pc.Messages(),
		errors:    pc.Errors(),
		endOffset: cfg.EndOffset,
	}
	return streamio.NewEmitter(p.next, &streamio.EmitterCfg{
		HighWaterMark: cfg.HighWaterMark,
		Closer: func() error {
			pc.AsyncClose()
			return nil
		},
	})
}

type partitionPuller struct {
	messages  <-chan *sarama.ConsumerMessage
	errors    <-chan *sarama.ConsumerError
	endOffset int64
	done      bool
}

func (p *partitionPuller) next() ([]byte, error) {
	if p.done {
		return nil, io.EOF
	}
	for {
		select {
		case msg, ok := <-p.messages:
			if !ok {
				return nil, io.EOF
			}
			if p.endOffset > 0 {
				if msg.Offset >= p.endOffset {
					return nil, io.EOF
				}
				p.done = msg.Offset+1 >= p.endOffset
			}
			return msg.Value, nil
		case err, ok := <-p.errors:
			if !ok {
				// 错误通道已关闭, 只等消息通道
				p.errors = nil
				continue
			}
			return nil, err
		}
	}
}
