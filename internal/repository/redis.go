package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lvdashuaibi/littlepolls/config"
	"github.com/lvdashuaibi/littlepolls/internal/model"
)

const (
	// Redis键前缀
	SessionKey        = "session:"
	QuestionResultKey = "question:results:"
	ResultsVersionKey = "question:results:version:"
)

// RedisRepository 会话与问题统计结果缓存
type RedisRepository struct {
	client *redis.Client
}

func NewRedisRepository(cfg config.RedisConfig) (*RedisRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.DataAddress,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	// 测试连接
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redis数据节点连接测试失败: %w", err)
	}

	return NewRedisRepositoryFromClient(client), nil
}

// NewRedisRepositoryFromClient 使用已有客户端创建仓库
func NewRedisRepositoryFromClient(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

// CreateSession 为账户创建会话，返回会话键
func (r *RedisRepository) CreateSession(ctx context.Context, accountID int64, ttl time.Duration) (string, error) {
	key := uuid.NewString()
	if err := r.client.Set(ctx, SessionKey+key, accountID, ttl).Err(); err != nil {
		return "", fmt.Errorf("创建会话失败: %w", err)
	}
	return key, nil
}

// SessionAccountID 获取会话对应的账户ID，会话不存在时返回 false
func (r *RedisRepository) SessionAccountID(ctx context.Context, key string) (int64, bool, error) {
	data, err := r.client.Get(ctx, SessionKey+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("获取会话失败: %w", err)
	}

	accountID, err := strconv.ParseInt(data, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("解析会话数据失败: %w", err)
	}
	return accountID, true, nil
}

// DeleteSession 删除会话
func (r *RedisRepository) DeleteSession(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, SessionKey+key).Err(); err != nil {
		return fmt.Errorf("删除会话失败: %w", err)
	}
	return nil
}

// GetResults 从缓存获取问题统计结果
func (r *RedisRepository) GetResults(ctx context.Context, questionID int64) (*model.QuestionResults, bool, error) {
	key := QuestionResultKey + strconv.FormatInt(questionID, 10)
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil // 缓存未命中
		}
		return nil, false, fmt.Errorf("获取问题统计缓存失败: %w", err)
	}

	var results model.QuestionResults
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, false, fmt.Errorf("解析问题统计缓存失败: %w", err)
	}
	return &results, true, nil
}

// ResultsVersion 获取问题统计缓存的版本号，不存在时为0
func (r *RedisRepository) ResultsVersion(ctx context.Context, questionID int64) (int64, error) {
	version, err := r.client.Get(ctx, ResultsVersionKey+strconv.FormatInt(questionID, 10)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("获取问题统计缓存版本失败: %w", err)
	}
	return version, nil
}

// SetResults 版本号仍为version时写入问题统计结果缓存，WATCH版本键保证检查与写入之间没有失效
func (r *RedisRepository) SetResults(ctx context.Context, results *model.QuestionResults, version int64, ttl time.Duration) (bool, error) {
	id := strconv.FormatInt(results.Question.ID, 10)
	key, versionKey := QuestionResultKey+id, ResultsVersionKey+id

	data, err := json.Marshal(results)
	if err != nil {
		return false, fmt.Errorf("序列化问题统计失败: %w", err)
	}

	stored := false
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, versionKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("设置问题统计缓存失败: %w", err)
	}
	return stored, nil
}

// DeleteResults 删除问题统计结果缓存并递增版本号
func (r *RedisRepository) DeleteResults(ctx context.Context, questionID int64) error {
	id := strconv.FormatInt(questionID, 10)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, ResultsVersionKey+id)
		pipe.Del(ctx, QuestionResultKey+id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("删除问题统计缓存失败: %w", err)
	}
	return nil
}

// Ping 检查Redis连接
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close 关闭Redis连接
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
