package kafka

import (
	"fmt"
	"sync"

	"github.com/Shopify/sarama"
	"github.com/rs/zerolog/log"

	streamio "github.com/usherasnick/stream-reader/stream-io"
)

// ConsumePartition 连接kafka, 返回cfg指定分区的推模式数据源.
// closeFn用于释放分区消费者和底层连接, 由调用方在读取结束后调用.
func ConsumePartition(cfg *Config) (src *streamio.Emitter, closeFn func(), err error) {
	consumer, err := sarama.NewConsumer(cfg.Brokers, NewConfig(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return consumeFrom(consumer, cfg)
}

func consumeFrom(consumer sarama.Consumer, cfg *Config) (*streamio.Emitter, func(), error) {
	offset := cfg.startOffset()
	pc, err := consumer.ConsumePartition(cfg.Topic, cfg.Partition, offset)
	if err != nil {
		consumer.Close() // nolint
		return nil, nil, fmt.Errorf("failed to consume partition %s/%d at offset %d: %w", cfg.Topic, cfg.Partition, offset, err)
	}

	log.Info().Msgf("create kafka partition source, topic: %v, partition: %v, offset: %v", cfg.Topic, cfg.Partition, offset)

	guarded := &onceConsumer{PartitionConsumer: pc}
	src := NewPartitionSource(guarded, &SourceCfg{
		EndOffset:     cfg.EndOffset,
		HighWaterMark: cfg.HighWaterMark,
	})
	closeFn := func() {
		if err := guarded.close(); err != nil {
			log.Warn().Err(err).Msgf("failed to close partition consumer, partition: %v", cfg.Partition)
		}
		if err := consumer.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close consumer")
		}
	}
	return src, closeFn, nil
}

// onceConsumer 保证分区消费者只被关闭一次, 无论先发生的是销毁数据源还是closeFn.
type onceConsumer struct {
	sarama.PartitionConsumer
	once sync.Once
}

func (c *onceConsumer) AsyncClose() {
	c.once.Do(c.PartitionConsumer.AsyncClose)
}

func (c *onceConsumer) close() (err error) {
	c.once.Do(func() {
		err = c.PartitionConsumer.Close()
	})
	return err
}
