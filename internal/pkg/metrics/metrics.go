package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP 请求指标。
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blogapi_http_requests_total",
		Help: "Total HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blogapi_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// 认证相关指标。
var (
	// AuthEventsTotal 按事件与结果统计，如 event=login result=failure。
	AuthEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blogapi_auth_events_total",
		Help: "Authentication events by event and result.",
	}, []string{"event", "result"})

	TokensRevokedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blogapi_tokens_revoked_total",
		Help: "Session tokens revoked on logout.",
	})

	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blogapi_rate_limited_total",
		Help: "Requests rejected by the rate limiter, by bucket.",
	}, []string{"bucket"})
)

// 邮件相关指标。
var (
	MailSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blogapi_mail_sent_total",
		Help: "Outbound mails by kind and result.",
	}, []string{"kind", "result"})

	MailQueueRetryTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blogapi_mail_queue_retry_total",
		Help: "Mail messages re-published after a failed send.",
	})

	MailQueueDLQTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blogapi_mail_queue_dlq_total",
		Help: "Mail messages moved to the dead letter stream.",
	})

	MailQueueAutoClaimTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blogapi_mail_queue_autoclaim_total",
		Help: "Pending mail messages reclaimed from idle consumers.",
	})

	WorkerPoolDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blogapi_worker_pool_dropped_total",
		Help: "Jobs dropped because the worker pool was full or closed.",
	})
)

// 业务指标。
var (
	PostsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blogapi_posts_created_total",
		Help: "Posts created.",
	})

	PostViewsSetTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blogapi_post_views_set_total",
		Help: "Post view counter upserts.",
	})

	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blogapi_uploads_total",
		Help: "Uploaded files by storage driver and result.",
	}, []string{"driver", "result"})
)
