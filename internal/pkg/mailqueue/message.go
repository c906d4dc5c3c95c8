package mailqueue

import (
	"encoding/json"
	"fmt"
	"time"

	"blogapi/internal/pkg/notify"

	"github.com/google/uuid"
)

// Envelope 是写入 Stream 的邮件消息。
type Envelope struct {
	ID         string      `json:"id"`          // 邮件唯一标识，重试时保持不变
	Mail       notify.Mail `json:"mail"`        // 邮件内容
	Retry      int         `json:"retry"`       // 已重试次数
	EnqueuedAt time.Time   `json:"enqueued_at"` // 首次入队时间
}

func newEnvelope(m notify.Mail) *Envelope {
	return &Envelope{
		ID:         uuid.NewString(),
		Mail:       m,
		EnqueuedAt: time.Now().UTC(),
	}
}

func decodeEnvelope(data string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Mail.To == "" {
		return nil, fmt.Errorf("envelope %q has no recipient", env.ID)
	}
	return &env, nil
}
