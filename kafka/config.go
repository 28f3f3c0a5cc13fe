package kafka

import (
	"os"

	"github.com/Shopify/sarama"
	"github.com/rs/zerolog/log"
)

// Config 分区数据源配置
type Config struct {
	Brokers       []string `json:"brokers"`
	Topic         string   `json:"topic"`
	Partition     int32    `json:"partition"`
	Offset        int64    `json:"offset"`     // 小于0时根据FromOldest决定起始位置
	EndOffset     int64    `json:"end_offset"` // 大于0时读到EndOffset-1为止
	FromOldest    bool     `json:"from_oldest"`
	ClientID      string   `json:"client_id"`
	HighWaterMark int      `json:"high_water_mark"`
}

func NewConfig(cfg *Config) *sarama.Config {
	conf := sarama.NewConfig()
	if cfg.FromOldest {
		conf.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	// 消费错误作为数据源的失败事件
	conf.Consumer.Return.Errors = true
	if cfg.ClientID != "" {
		conf.ClientID = cfg.ClientID
	}
	GetKafkaAccessEnv(conf)
	return conf
}

func GetKafkaAccessEnv(cfg *sarama.Config) {
	usr := os.Getenv("KAFKA_USERNAME")
	pwd := os.Getenv("KAFKA_PASSWORD")
	if usr == "" || pwd == "" {
		log.Debug().Msg("access kafka without SASL setting")
		return
	}
	cfg.Net.SASL.Enable = true
	cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	cfg.Net.SASL.User = usr
	cfg.Net.SASL.Password = pwd
	cfg.Net.SASL.Version = sarama.SASLHandshakeV1
}

func (cfg *Config) startOffset() int64 {
	if cfg.Offset >= 0 {
		return cfg.Offset
	}
	if cfg.FromOldest {
		return sarama.OffsetOldest
	}
	return sarama.OffsetNewest
}
