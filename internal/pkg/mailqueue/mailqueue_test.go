package mailqueue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"blogapi/internal/pkg/notify"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []notify.Mail
	err   error
	calls int
}

func (f *fakeSender) Send(_ context.Context, m notify.Mail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestConsumer(t *testing.T, rdb *redis.Client, opts ...Option) *Consumer {
	t.Helper()
	opts = append([]Option{WithBlockTime(20 * time.Millisecond)}, opts...)
	c, err := NewConsumer(context.Background(), rdb, testLogger(), "test:mail", "test_group", "c1", opts...)
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	return c
}

func resetMail(to string) notify.Mail {
	return notify.PasswordResetMail(to, "http://localhost/reset/", "tok", time.Hour)
}

func TestProducerConsumer_ReadAck(t *testing.T) {
	rdb := newMiniRedis(t)
	ctx := context.Background()
	consumer := newTestConsumer(t, rdb)
	producer := NewProducer(rdb, testLogger(), "test:mail")

	if err := producer.Dispatch(ctx, resetMail("a@example.com")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if n, err := producer.Len(ctx); err != nil || n != 1 {
		t.Fatalf("expected stream length 1, got %d (%v)", n, err)
	}

	deliveries, err := consumer.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(deliveries))
	}
	env := deliveries[0].Envelope
	if env.Mail.To != "a@example.com" || env.Mail.Kind != notify.KindPasswordReset || env.ID == "" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	if pending, _ := consumer.Pending(ctx); pending != 1 {
		t.Fatalf("expected 1 pending, got %d", pending)
	}
	if err := consumer.Ack(ctx, deliveries[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if pending, _ := consumer.Pending(ctx); pending != 0 {
		t.Fatalf("expected 0 pending, got %d", pending)
	}
}

func TestConsumer_HandleFailureRetryThenDLQ(t *testing.T) {
	rdb := newMiniRedis(t)
	ctx := context.Background()
	consumer := newTestConsumer(t, rdb, WithMaxRetry(1))
	producer := NewProducer(rdb, testLogger(), "test:mail")

	if err := producer.Dispatch(ctx, resetMail("b@example.com")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	first, err := consumer.Read(ctx)
	if err != nil || len(first) != 1 {
		t.Fatalf("read: %v (%d)", err, len(first))
	}
	action, err := consumer.HandleFailure(ctx, first[0], errors.New("smtp down"))
	if err != nil {
		t.Fatalf("handle failure: %v", err)
	}
	if action != FailureActionRetry {
		t.Fatalf("expected retry, got %s", action)
	}

	second, err := consumer.Read(ctx)
	if err != nil || len(second) != 1 {
		t.Fatalf("read retry: %v (%d)", err, len(second))
	}
	if second[0].Envelope.Retry != 1 || second[0].Envelope.ID != first[0].Envelope.ID {
		t.Fatalf("expected same mail with retry=1, got %+v", second[0].Envelope)
	}

	action, err = consumer.HandleFailure(ctx, second[0], errors.New("smtp down"))
	if err != nil {
		t.Fatalf("handle failure: %v", err)
	}
	if action != FailureActionDLQ {
		t.Fatalf("expected dlq, got %s", action)
	}
	if n, _ := rdb.XLen(ctx, consumer.DeadLetterStream()).Result(); n != 1 {
		t.Fatalf("expected 1 dead letter, got %d", n)
	}
	if pending, _ := consumer.Pending(ctx); pending != 0 {
		t.Fatalf("expected 0 pending, got %d", pending)
	}
}

func TestConsumer_PoisonMessage(t *testing.T) {
	rdb := newMiniRedis(t)
	ctx := context.Background()
	consumer := newTestConsumer(t, rdb)

	if err := rdb.XAdd(ctx, &redis.XAddArgs{Stream: "test:mail", Values: map[string]interface{}{"data": "{not json"}}).Err(); err != nil {
		t.Fatalf("xadd: %v", err)
	}
	deliveries, err := consumer.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(deliveries) != 0 {
		t.Fatalf("expected poison message to be filtered, got %d", len(deliveries))
	}
	if n, _ := rdb.XLen(ctx, consumer.DeadLetterStream()).Result(); n != 1 {
		t.Fatalf("expected 1 dead letter, got %d", n)
	}
}

func TestConsumer_Run(t *testing.T) {
	rdb := newMiniRedis(t)
	consumer := newTestConsumer(t, rdb)
	producer := NewProducer(rdb, testLogger(), "test:mail")
	sender := &fakeSender{}

	for _, to := range []string{"c@example.com", "d@example.com"} {
		if err := producer.Dispatch(context.Background(), resetMail(to)); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx, sender) }()

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if sender.count() != 2 {
		t.Fatalf("expected 2 mails sent, got %d", sender.count())
	}
	if pending, _ := consumer.Pending(context.Background()); pending != 0 {
		t.Fatalf("expected 0 pending, got %d", pending)
	}
}

func TestNewConsumer_GroupIsIdempotent(t *testing.T) {
	rdb := newMiniRedis(t)
	newTestConsumer(t, rdb)
	newTestConsumer(t, rdb)
}
