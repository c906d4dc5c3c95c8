package mailqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"blogapi/internal/pkg/metrics"
	"blogapi/internal/pkg/notify"

	"github.com/redis/go-redis/v9"
)

// FailureAction 表示发送失败后的处理结果。
type FailureAction string

const (
	FailureActionNone  FailureAction = "none"
	FailureActionRetry FailureAction = "retry"
	FailureActionDLQ   FailureAction = "dlq"
)

// Consumer 从消费者组中读取邮件并发送。
//
// 空闲超过 pendingIdle 的 Pending 消息会被 XAUTOCLAIM 认领，
// 因此崩溃的 mailer 留下的消息最终会被其他实例处理。
type Consumer struct {
	stream           *stream
	logger           *slog.Logger
	group            string
	consumerID       string
	blockTime        time.Duration
	batchSize        int64
	pendingIdle      time.Duration
	pendingStart     string
	deadLetterStream string
	maxRetry         int
}

// Option 消费者配置选项。
type Option func(*Consumer)

// WithBlockTime 设置 XREADGROUP 阻塞时间。
func WithBlockTime(d time.Duration) Option {
	return func(c *Consumer) { c.blockTime = d }
}

// WithBatchSize 设置每次读取的消息数量。
func WithBatchSize(n int64) Option {
	return func(c *Consumer) { c.batchSize = n }
}

// WithPendingIdle 设置 Pending 消息被认领前的最小空闲时间。
func WithPendingIdle(d time.Duration) Option {
	return func(c *Consumer) { c.pendingIdle = d }
}

// WithMaxRetry 设置最大重试次数，超过后进入死信 Stream。
func WithMaxRetry(n int) Option {
	return func(c *Consumer) { c.maxRetry = n }
}

// Delivery 是读取到的一条消息。
type Delivery struct {
	ID       string
	Envelope *Envelope
}

// NewConsumer 创建消费者并确保消费者组存在。
func NewConsumer(ctx context.Context, rdb *redis.Client, logger *slog.Logger, streamName, group, consumerID string, opts ...Option) (*Consumer, error) {
	if group == "" {
		return nil, fmt.Errorf("group name is required")
	}
	if consumerID == "" {
		consumerID = fmt.Sprintf("mailer-%d", time.Now().UnixNano())
	}
	s := newStream(rdb, logger, streamName)
	c := &Consumer{
		stream:           s,
		logger:           logger,
		group:            group,
		consumerID:       consumerID,
		blockTime:        time.Second,
		batchSize:        10,
		pendingIdle:      time.Minute,
		pendingStart:     "0-0",
		deadLetterStream: s.name + ":dlq",
		maxRetry:         3,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := s.ensureGroup(ctx, group); err != nil {
		return nil, err
	}
	c.logger.Info("mail consumer ready",
		slog.String("stream", s.name),
		slog.String("group", group),
		slog.String("consumer_id", consumerID))
	return c, nil
}

// DeadLetterStream 返回死信 Stream 名称。
func (c *Consumer) DeadLetterStream() string {
	return c.deadLetterStream
}

// Run 循环读取并发送邮件，直到 ctx 被取消。
func (c *Consumer) Run(ctx context.Context, sender notify.Sender) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		deliveries, err := c.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("read mail queue failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		for _, d := range deliveries {
			c.process(ctx, sender, d)
		}
	}
}

func (c *Consumer) process(ctx context.Context, sender notify.Sender, d *Delivery) {
	err := sender.Send(ctx, d.Envelope.Mail)
	if err == nil {
		if err := c.Ack(ctx, d.ID); err != nil {
			c.logger.Error("ack mail failed", slog.String("msg_id", d.ID), slog.String("error", err.Error()))
		}
		return
	}

	action, ferr := c.HandleFailure(ctx, d, err)
	c.logger.Warn("send mail failed",
		slog.String("mail_id", d.Envelope.ID),
		slog.String("kind", d.Envelope.Mail.Kind),
		slog.Int("retry", d.Envelope.Retry),
		slog.String("action", string(action)),
		slog.String("error", err.Error()))
	if ferr != nil {
		c.logger.Error("handle mail failure failed", slog.String("msg_id", d.ID), slog.String("error", ferr.Error()))
	}
}

// Read 优先认领超时的 Pending 消息，没有时再读取新消息。
func (c *Consumer) Read(ctx context.Context) ([]*Delivery, error) {
	pending, err := c.readPending(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		return pending, nil
	}
	return c.readNew(ctx)
}

func (c *Consumer) readPending(ctx context.Context) ([]*Delivery, error) {
	messages, next, err := c.stream.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream.name,
		Group:    c.group,
		Consumer: c.consumerID,
		MinIdle:  c.pendingIdle,
		Start:    c.pendingStart,
		Count:    c.batchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim failed: %w", err)
	}
	if next != "" {
		c.pendingStart = next
	}
	if len(messages) > 0 {
		metrics.MailQueueAutoClaimTotal.Add(float64(len(messages)))
	}
	return c.decode(ctx, messages), nil
}

func (c *Consumer) readNew(ctx context.Context) ([]*Delivery, error) {
	streams, err := c.stream.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumerID,
		Streams:  []string{c.stream.name, ">"},
		Count:    c.batchSize,
		Block:    c.blockTime,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup failed: %w", err)
	}
	var messages []redis.XMessage
	for _, s := range streams {
		messages = append(messages, s.Messages...)
	}
	return c.decode(ctx, messages), nil
}

// decode 解析消息，无法解析的消息直接进入死信 Stream。
func (c *Consumer) decode(ctx context.Context, messages []redis.XMessage) []*Delivery {
	if len(messages) == 0 {
		return nil
	}
	out := make([]*Delivery, 0, len(messages))
	for _, msg := range messages {
		data, ok := msg.Values["data"].(string)
		if !ok || data == "" {
			c.poison(ctx, msg.ID, fmt.Sprintf("%v", msg.Values["data"]), "invalid message format")
			continue
		}
		env, err := decodeEnvelope(data)
		if err != nil {
			c.poison(ctx, msg.ID, data, err.Error())
			continue
		}
		out = append(out, &Delivery{ID: msg.ID, Envelope: env})
	}
	return out
}

// Ack 确认消息已处理。
func (c *Consumer) Ack(ctx context.Context, msgID string) error {
	if err := c.stream.rdb.XAck(ctx, c.stream.name, c.group, msgID).Err(); err != nil {
		return fmt.Errorf("xack failed: %w", err)
	}
	return nil
}

// HandleFailure 重新入队（重试次数 +1）或在超过上限后放入死信 Stream，并确认原消息。
func (c *Consumer) HandleFailure(ctx context.Context, d *Delivery, cause error) (FailureAction, error) {
	if d == nil || d.Envelope == nil {
		return FailureActionNone, fmt.Errorf("delivery is nil")
	}
	d.Envelope.Retry++

	if d.Envelope.Retry > c.maxRetry {
		metrics.MailQueueDLQTotal.Inc()
		if err := c.deadLetter(ctx, d.ID, d.Envelope, cause); err != nil {
			return FailureActionDLQ, err
		}
		return FailureActionDLQ, c.Ack(ctx, d.ID)
	}

	metrics.MailQueueRetryTotal.Inc()
	if _, err := c.stream.publish(ctx, d.Envelope); err != nil {
		return FailureActionRetry, err
	}
	return FailureActionRetry, c.Ack(ctx, d.ID)
}

func (c *Consumer) poison(ctx context.Context, msgID, payload, reason string) {
	c.logger.Warn("poison mail message", slog.String("msg_id", msgID), slog.String("reason", reason))
	metrics.MailQueueDLQTotal.Inc()
	if err := c.deadLetter(ctx, msgID, payload, errors.New(reason)); err != nil {
		c.logger.Error("publish dead letter failed", slog.String("msg_id", msgID), slog.String("error", err.Error()))
	}
	if err := c.Ack(ctx, msgID); err != nil {
		c.logger.Error("ack poison message failed", slog.String("msg_id", msgID), slog.String("error", err.Error()))
	}
}

func (c *Consumer) deadLetter(ctx context.Context, msgID string, payload interface{}, cause error) error {
	raw := payload
	if env, ok := payload.(*Envelope); ok {
		if data, err := json.Marshal(env); err == nil {
			raw = string(data)
		}
	}
	_, err := c.stream.publishRaw(ctx, c.deadLetterStream, map[string]interface{}{
		"original_id": msgID,
		"payload":     raw,
		"reason":      cause.Error(),
		"failed_at":   time.Now().UTC().Format(time.RFC3339Nano),
	})
	return err
}

// Pending 返回已投递但未确认的消息数量。
func (c *Consumer) Pending(ctx context.Context) (int64, error) {
	info, err := c.stream.rdb.XPending(ctx, c.stream.name, c.group).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending failed: %w", err)
	}
	return info.Count, nil
}
