package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/lvdashuaibi/littlepolls/config"
	"github.com/lvdashuaibi/littlepolls/internal/model"
	"github.com/segmentio/kafka-go"
)

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("未配置Kafka broker")
	}

	partitions, err := topicPartitions(cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("生产者检测到Kafka主题分区", "topic", cfg.Topic, "partitions", len(partitions))

	// 使用Hash分区器，基于消息Key进行分区路由
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}

	return &Producer{writer: writer}, nil
}

// SendVoteEvent 发送投票事件到Kafka
func (p *Producer) SendVoteEvent(ctx context.Context, event *model.VoteEvent) error {
	msg, err := voteMessage(event)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("发送投票事件失败: %w", err)
	}
	return nil
}

// voteMessage 以问题ID作为分区key，同一问题的事件进入同一分区
func voteMessage(event *model.VoteEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("序列化投票事件失败: %w", err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(event.QuestionID, 10)),
		Value: data,
		Time:  time.Now(),
	}, nil
}

// Close 关闭Kafka生产者
func (p *Producer) Close() error {
	return p.writer.Close()
}

// topicPartitions 读取主题的分区ID
func topicPartitions(cfg config.KafkaConfig) ([]int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := kafka.DialContext(ctx, "tcp", cfg.Brokers[0])
	if err != nil {
		return nil, fmt.Errorf("连接Kafka失败: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("读取分区信息失败: %w", err)
	}

	ids := make([]int, 0, len(partitions))
	for _, p := range partitions {
		if p.Topic == cfg.Topic {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}
