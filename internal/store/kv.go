package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

var ErrMiss = errors.New("cache miss")

// KV 键值存储（单元测试中可替换 Redis）
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// Stream 追加写入的消息流（Redis Streams）
type Stream interface {
	Append(ctx context.Context, stream string, maxLen int64, values map[string]interface{}) (string, error)
	Recent(ctx context.Context, stream string, count int64) ([]StreamEntry, error)
}

// StreamEntry 一条流消息
type StreamEntry struct {
	ID     string            `json:"id"`
	Values map[string]string `json:"values"`
}

type RedisKV struct {
	c *redis.Client
}

func NewRedisKV(c *redis.Client) *RedisKV { return &RedisKV{c: c} }

var (
	_ KV     = (*RedisKV)(nil)
	_ Stream = (*RedisKV)(nil)
)

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.c.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

// Append XADD，maxLen > 0 时近似裁剪到该长度
func (r *RedisKV) Append(ctx context.Context, stream string, maxLen int64, values map[string]interface{}) (string, error) {
	fields := make(map[string]interface{}, len(values))
	for k, v := range values {
		s, err := streamValue(v)
		if err != nil {
			return "", err
		}
		fields[k] = s
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: fields,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	return r.c.XAdd(ctx, args).Result()
}

// Recent 按时间倒序读取最近 count 条消息
func (r *RedisKV) Recent(ctx context.Context, stream string, count int64) ([]StreamEntry, error) {
	msgs, err := r.c.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if err != nil {
		if err == redis.Nil {
			return []StreamEntry{}, nil
		}
		return nil, err
	}

	entries := make([]StreamEntry, 0, len(msgs))
	for _, msg := range msgs {
		values := make(map[string]string, len(msg.Values))
		for k, v := range msg.Values {
			if s, ok := v.(string); ok {
				values[k] = s
			}
		}
		entries = append(entries, StreamEntry{ID: msg.ID, Values: values})
	}
	return entries, nil
}

// streamValue Redis Streams 的字段值统一为字符串
func streamValue(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	case time.Time:
		return val.UTC().Format(time.RFC3339), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
