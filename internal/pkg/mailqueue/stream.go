package mailqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultStream 是默认的邮件 Stream 名称。
const DefaultStream = "blogapi:mail:queue"

const maxStreamLen = 100000

// stream 封装 Redis Streams 的基础操作。
type stream struct {
	rdb    *redis.Client
	logger *slog.Logger
	name   string
}

func newStream(rdb *redis.Client, logger *slog.Logger, name string) *stream {
	if name == "" {
		name = DefaultStream
	}
	return &stream{rdb: rdb, logger: logger, name: name}
}

func (s *stream) publish(ctx context.Context, env *Envelope) (string, error) {
	if env == nil {
		return "", fmt.Errorf("envelope is nil")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return s.publishRaw(ctx, s.name, map[string]interface{}{"data": string(data)})
}

func (s *stream) publishRaw(ctx context.Context, name string, values map[string]interface{}) (string, error) {
	msgID, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: name,
		MaxLen: maxStreamLen,
		Approx: false,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd failed: %w", err)
	}
	s.logger.Debug("mail message published",
		slog.String("stream", name),
		slog.String("msg_id", msgID))
	return msgID, nil
}

// ensureGroup 创建消费者组，已存在时忽略。
func (s *stream) ensureGroup(ctx context.Context, group string) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.name, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (s *stream) length(ctx context.Context) (int64, error) {
	n, err := s.rdb.XLen(ctx, s.name).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen failed: %w", err)
	}
	return n, nil
}
