package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/NathanMahpood/FinalProject-server/config"
	"github.com/NathanMahpood/FinalProject-server/internal/model"
)

type Producer struct {
	writer         *kafka.Writer
	ctx            context.Context
	partitionCount int // 主题的分区数量
}

func NewProducer() (*Producer, error) {
	ctx := context.Background()

	// 获取分区数量
	conn, err := kafka.DialLeader(ctx, "tcp", config.AppConfig.Kafka.Brokers[0], config.AppConfig.Kafka.Topic, 0)
	if err != nil {
		return nil, fmt.Errorf("连接Kafka失败: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, fmt.Errorf("读取分区信息失败: %w", err)
	}

	topicPartitions := 0
	for _, p := range partitions {
		if p.Topic == config.AppConfig.Kafka.Topic {
			topicPartitions++
		}
	}

	log.Printf("生产者检测到Kafka主题 %s 有 %d 个分区", config.AppConfig.Kafka.Topic, topicPartitions)

	// 使用Hash分区器，基于消息Key进行分区路由
	writer := &kafka.Writer{
		Addr:     kafka.TCP(config.AppConfig.Kafka.Brokers...),
		Topic:    config.AppConfig.Kafka.Topic,
		Balancer: &kafka.Hash{},
	}

	return &Producer{
		writer:         writer,
		ctx:            ctx,
		partitionCount: topicPartitions,
	}, nil
}

// SendCounterEvent 发送计数变更事件到Kafka
// 使用复合键作为分区key，保证同一个计数键的事件进入同一分区、保持顺序
func (p *Producer) SendCounterEvent(event *model.CounterEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化计数事件失败: %w", err)
	}

	var key []byte
	if event.Variant == "line" {
		key = []byte(fmt.Sprintf("line:%s:%s", event.LineID, event.StationID))
	} else {
		key = []byte(fmt.Sprintf("route:%s:%d", event.StationID, event.RouteMkt))
	}

	msg := kafka.Message{
		Key:   key,
		Value: data,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(p.ctx, msg); err != nil {
		return fmt.Errorf("发送计数事件失败: %w", err)
	}

	return nil
}

// Close 关闭Kafka生产者
func (p *Producer) Close() error {
	return p.writer.Close()
}
