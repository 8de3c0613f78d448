package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lvdashuaibi/littlepolls/config"
	"github.com/lvdashuaibi/littlepolls/internal/model"
	"github.com/segmentio/kafka-go"
)

// 期望的并发消费goroutine数量
const maxWorkers = 4

type Consumer struct {
	readers []*kafka.Reader
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type MessageHandler func(ctx context.Context, event *model.VoteEvent) error

func NewConsumer(cfg config.KafkaConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("未配置Kafka broker")
	}

	partitions, err := topicPartitions(cfg)
	if err != nil {
		return nil, err
	}

	// 同一消费者组内的reader瓜分分区，多于分区数的reader没有意义
	numWorkers := min(maxWorkers, len(partitions))
	if numWorkers == 0 {
		numWorkers = 1
	}
	slog.Info("Kafka消费者配置", "topic", cfg.Topic, "partitions", len(partitions), "workers", numWorkers)

	readers := make([]*kafka.Reader, 0, numWorkers)
	for i := 0; i < numWorkers; i++ {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6, // 10MB
			MaxWait:  500 * time.Millisecond,
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		readers: readers,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// StartConsuming 开始消费消息，每个reader一个goroutine
func (c *Consumer) StartConsuming(handler MessageHandler) {
	for i, reader := range c.readers {
		c.wg.Add(1)
		go func(workerID int, r *kafka.Reader) {
			defer c.wg.Done()
			c.consumeMessages(workerID, r, handler)
		}(i, reader)
	}
	slog.Info("已启动Kafka消费者工作线程", "workers", len(c.readers))
}

// consumeMessages 单个消费者goroutine的消费逻辑
func (c *Consumer) consumeMessages(workerID int, reader *kafka.Reader, handler MessageHandler) {
	for {
		m, err := reader.FetchMessage(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || c.ctx.Err() != nil {
				slog.Info("消费者工作线程收到停止信号", "worker", workerID)
				return
			}
			slog.Error("消费者读取消息失败", "worker", workerID, "error", err)
			select {
			case <-time.After(time.Second):
			case <-c.ctx.Done():
				return
			}
			continue
		}

		if err := handleMessage(c.ctx, m, handler); err != nil {
			slog.Error("消费者处理消息失败", "worker", workerID, "partition", m.Partition, "offset", m.Offset, "error", err)
		}

		if err := reader.CommitMessages(c.ctx, m); err != nil && c.ctx.Err() == nil {
			slog.Error("提交消息偏移量失败", "worker", workerID, "offset", m.Offset, "error", err)
		}
	}
}

// handleMessage 解析投票事件并交给处理函数；无法解析的消息直接跳过
func handleMessage(ctx context.Context, m kafka.Message, handler MessageHandler) error {
	var event model.VoteEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return fmt.Errorf("解析投票事件失败: %w", err)
	}
	return handler(ctx, &event)
}

// Stop 停止消费
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()

	var errs []error
	for i, reader := range c.readers {
		if err := reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭消费者 #%d 失败: %w", i, err))
		}
	}
	slog.Info("所有Kafka消费者工作线程已停止")
	return errors.Join(errs...)
}
