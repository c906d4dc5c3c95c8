package mailqueue

import (
	"context"
	"log/slog"

	"blogapi/internal/pkg/notify"

	"github.com/redis/go-redis/v9"
)

// Producer 将邮件写入 Redis Stream，由独立的 mailer 进程发送。
// 它实现 notify.Dispatcher。
type Producer struct {
	stream *stream
	logger *slog.Logger
}

// NewProducer 创建邮件生产者。
func NewProducer(rdb *redis.Client, logger *slog.Logger, streamName string) *Producer {
	return &Producer{
		stream: newStream(rdb, logger, streamName),
		logger: logger,
	}
}

// Dispatch 把邮件加入发送队列。
func (p *Producer) Dispatch(ctx context.Context, m notify.Mail) error {
	env := newEnvelope(m)
	msgID, err := p.stream.publish(ctx, env)
	if err != nil {
		p.logger.Error("enqueue mail failed",
			slog.String("kind", m.Kind),
			slog.String("error", err.Error()))
		return err
	}
	p.logger.Info("mail enqueued",
		slog.String("kind", m.Kind),
		slog.String("mail_id", env.ID),
		slog.String("msg_id", msgID))
	return nil
}

// Len 返回 Stream 中的消息数量。
func (p *Producer) Len(ctx context.Context) (int64, error) {
	return p.stream.length(ctx)
}
