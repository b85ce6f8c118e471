package constants

import "time"

const (
	DefaultQueueName       = "email_task_queue"
	DefaultQueuePopTimeout = 20 * time.Second
	QueueTypeRedis         = "redis"
	QueueTypeKafka         = "kafka"
	KafkaBatchTimeout      = 10 * time.Millisecond
	KafkaWriteTimeout      = 10 * time.Second
)

const (
	DefaultRepliedSetKey     = "replied_emails_set"
	CacheKeyPrefixReplied    = "replied:"
	DefaultDedupTTL          = 30 * 24 * time.Hour
	DefaultDedupTTLSeconds   = int(DefaultDedupTTL / time.Second)
	CacheCircuitBreakerName  = "dedup-cache"
	CacheKeyPrefixDomainRate = "domain_rate:"
	DefaultDomainLimitWindow = time.Hour
)

const (
	DefaultAnchoredPrefix   = 100
	DefaultUnanchoredPrefix = 200
	MaxMessageIDLength      = 255
)

const (
	DefaultIngestInterval = 60 * time.Second
	DefaultLookback       = time.Hour
	DefaultCursorOverlap  = 10 * time.Minute
	DefaultMaxLookback    = 7 * 24 * time.Hour
	DefaultMailboxTimeout = 30 * time.Second
	DefaultIMAPPort       = 993
)

const (
	DefaultReplyWorkers   = 1
	DefaultMaxAttempts    = 3
	DefaultRetryInterval  = 5 * time.Second
	DefaultRelayTimeout   = 20 * time.Second
	DefaultReplySubject   = "Re: 谢谢你的邮件"
	SMTPImplicitTLSPort   = 465
	DefaultSMTPSubmission = 587
)

const (
	DefaultCompletionTimeout     = 15 * time.Second
	DefaultCompletionRetries     = 3
	DefaultEmptyReplyText        = "你说了什么么？我好像没看见"
	CompletionCircuitBreakerName = "completion"
)

const (
	DBConnectAttempts = 5
	DBConnectInterval = 2 * time.Second
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)
