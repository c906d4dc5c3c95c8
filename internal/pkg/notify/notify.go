package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"blogapi/internal/pkg/queue"
)

// 邮件种类，用于指标与日志。
const (
	KindPasswordReset = "password_reset"
)

// Mail 是一封待发送的邮件，可直接序列化进队列。
type Mail struct {
	Kind    string `json:"kind"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Sender 同步发送一封邮件。
type Sender interface {
	Send(ctx context.Context, m Mail) error
}

// Dispatcher 异步投递邮件，调用方不等待发送结果。
type Dispatcher interface {
	Dispatch(ctx context.Context, m Mail) error
}

// PoolDispatcher 把邮件交给进程内 worker 池发送。
type PoolDispatcher struct {
	pool   *queue.Pool
	sender Sender
	logger *slog.Logger
}

// NewPoolDispatcher 创建进程内投递器。
func NewPoolDispatcher(pool *queue.Pool, sender Sender, logger *slog.Logger) *PoolDispatcher {
	return &PoolDispatcher{pool: pool, sender: sender, logger: logger}
}

// Dispatch 提交发送任务，worker 池满时返回错误。
func (d *PoolDispatcher) Dispatch(_ context.Context, m Mail) error {
	if d == nil || d.pool == nil || d.sender == nil {
		return errors.New("mail dispatcher not configured")
	}
	err := d.pool.Submit("mail:"+m.Kind, func(ctx context.Context) error {
		return d.sender.Send(ctx, m)
	})
	if err != nil {
		return fmt.Errorf("dispatch mail: %w", err)
	}
	return nil
}

// PasswordResetMail 构造重置密码邮件，链接为 resetURL + token。
func PasswordResetMail(to, resetURL, token string, ttl time.Duration) Mail {
	link := resetURL + token
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>Reset your password</h2>
    <p>Someone requested a password reset for this account. Use the link below to choose a new password:</p>
    <p><a href="%s" style="display:inline-block;padding:10px 18px;background:#2563eb;color:#fff;text-decoration:none;border-radius:6px;">Reset password</a></p>
    <p style="font-size: 12px; color: #6b7280;">The link expires in %s. If you did not ask for this, ignore this email.</p>
  </div>
</body>
</html>`, link, ttl.String())
	return Mail{
		Kind:    KindPasswordReset,
		To:      to,
		Subject: "[Blog] Password reset",
		HTML:    body,
	}
}
