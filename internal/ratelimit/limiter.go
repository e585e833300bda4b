package ratelimit

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"wadispatch/internal/constants"
	"wadispatch/internal/errors"
	"wadispatch/internal/models"
	"wadispatch/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ErrLimitExceeded is returned by a Backend when an increment would pass its bound.
var ErrLimitExceeded = errors.New(errors.ErrCodeRateLimit, "rate limit exceeded")

const (
	retryAfter     = time.Second
	bucketTTL      = constants.RateBucketTTL
	tierWindow     = 24 * time.Hour
	tierBucketSize = time.Hour
)

// Backend stores the counters behind the limiter.
type Backend interface {
	// Increment adds one to key and returns the new count. With limit > 0 the
	// increment is refused with ErrLimitExceeded once the count would exceed limit.
	Increment(ctx context.Context, key string, windowStart int64, limit int, ttl time.Duration) (int64, error)
	// Sum adds up the current values of keys, treating missing keys as zero.
	Sum(ctx context.Context, keys []string) (int64, error)
	// Claim sets key if absent and reports whether this call set it.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Name() string
}

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Count      int64
	Limit      int
	// FailedOpen is set when the backend was unreachable and the request was let through.
	FailedOpen bool

	NewConversation  bool
	TierUsage        int64
	TierLimit        int
	TierUsagePercent float64
	TierWarning      bool
}

// Limiter applies per-second limits per (channel, identity) and the rolling 24h
// WhatsApp conversation tier.
type Limiter struct {
	backend   Backend
	limits    models.RateLimitConfig
	tierLimit int
	logger    *logrus.Logger
	now       func() time.Time
}

// New creates a limiter over backend.
func New(backend Backend, limits models.RateLimitConfig, logger *logrus.Logger) *Limiter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Limiter{
		backend:   backend,
		limits:    limits,
		tierLimit: constants.TierLimits[limits.Tier],
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the time source used to pick bucket windows.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Identity returns the bucket identity for a channel: the phone number ID on
// WhatsApp and a per-channel singleton elsewhere.
func Identity(channel models.Channel, phoneNumberID string) string {
	if channel == models.ChannelWhatsApp {
		return phoneNumberID
	}
	return string(channel)
}

// BucketKey formats the per-second bucket key, e.g. "whatsapp:phone-number-id".
func BucketKey(channel models.Channel, identity string) string {
	return fmt.Sprintf("%s:%s", channel, identity)
}

// Allow consumes one token from the current one-second window.
func (l *Limiter) Allow(ctx context.Context, channel models.Channel, identity string) Decision {
	limit := l.limits.LimitFor(channel)
	if limit <= 0 {
		return Decision{Allowed: true}
	}

	windowStart := l.now().Unix()
	key := BucketKey(channel, identity)

	count, err := l.backend.Increment(ctx, key, windowStart, limit, bucketTTL)
	switch {
	case err == nil:
		return Decision{Allowed: true, Count: count, Limit: limit}
	case stderrors.Is(err, ErrLimitExceeded):
		l.logger.WithFields(logrus.Fields{
			"bucket":       key,
			"window_start": windowStart,
			"limit":        limit,
		}).Debug("Rate limit reached")
		return Decision{Allowed: false, RetryAfter: retryAfter, Count: int64(limit), Limit: limit}
	default:
		l.logger.WithError(err).WithFields(logrus.Fields{
			"bucket":  key,
			"backend": l.backend.Name(),
		}).Warn("Rate limiter backend unavailable, allowing request")
		return Decision{Allowed: true, Limit: limit, FailedOpen: true}
	}
}

// CheckTier reserves a conversation for a WhatsApp send and checks the tier.
// Sends to a recipient with a conversation opened in the last 24h pass without
// a reservation. A new conversation only counts once CommitTier is called;
// ReleaseTier gives the reservation back when nothing was delivered.
func (l *Limiter) CheckTier(ctx context.Context, phoneNumberID, recipient string) Decision {
	if l.tierLimit <= 0 {
		return Decision{Allowed: true}
	}

	now := l.now()
	marker := conversationKey(phoneNumberID, recipient)
	fields := logrus.Fields{
		"phone_number_id": phoneNumberID,
		"recipient":       privacy.MaskPhoneNumber(recipient),
	}

	fresh, err := l.backend.Claim(ctx, marker, tierWindow)
	if err != nil {
		l.logger.WithError(err).WithFields(fields).Warn("Conversation marker unavailable, allowing request")
		return Decision{Allowed: true, FailedOpen: true, TierLimit: l.tierLimit}
	}
	if !fresh {
		return Decision{Allowed: true, TierLimit: l.tierLimit}
	}

	usage, err := l.backend.Sum(ctx, tierKeys(phoneNumberID, now))
	if err != nil {
		l.logger.WithError(err).WithFields(fields).Warn("Tier usage unavailable, allowing request")
		return Decision{Allowed: true, FailedOpen: true, NewConversation: true, TierLimit: l.tierLimit}
	}

	if usage >= int64(l.tierLimit) {
		if relErr := l.backend.Release(ctx, marker); relErr != nil {
			l.logger.WithError(relErr).WithFields(fields).Warn("Failed to release conversation marker")
		}
		l.logger.WithFields(fields).WithField("tier_usage", usage).Warn("WhatsApp tier limit reached")
		return l.tierDecision(false, usage)
	}

	d := l.tierDecision(true, usage+1)
	d.NewConversation = true
	if d.TierWarning {
		l.logger.WithFields(fields).WithField("tier_usage_percent", d.TierUsagePercent).Warn("WhatsApp tier usage above warning threshold")
	}
	return d
}

// CommitTier counts a delivered new conversation against the tier.
func (l *Limiter) CommitTier(ctx context.Context, phoneNumberID string, d Decision) {
	if !d.NewConversation {
		return
	}
	hour := l.now().Truncate(tierBucketSize)
	if _, err := l.backend.Increment(ctx, tierKey(phoneNumberID, hour.Unix()), hour.Unix(), 0, tierWindow+tierBucketSize); err != nil {
		l.logger.WithError(err).WithField("phone_number_id", phoneNumberID).Warn("Failed to count conversation against tier")
	}
}

// ReleaseTier drops the conversation reserved by CheckTier for a send that
// failed or was never delivered.
func (l *Limiter) ReleaseTier(ctx context.Context, phoneNumberID, recipient string, d Decision) {
	if !d.NewConversation {
		return
	}
	if err := l.backend.Release(ctx, conversationKey(phoneNumberID, recipient)); err != nil {
		l.logger.WithError(err).WithFields(logrus.Fields{
			"phone_number_id": phoneNumberID,
			"recipient":       privacy.MaskPhoneNumber(recipient),
		}).Warn("Failed to release conversation marker")
	}
}

// TierUsage returns the rolling 24h conversation count for a phone number.
func (l *Limiter) TierUsage(ctx context.Context, phoneNumberID string) (int64, float64, error) {
	usage, err := l.backend.Sum(ctx, tierKeys(phoneNumberID, l.now()))
	if err != nil {
		return 0, 0, err
	}
	return usage, percentOf(usage, l.tierLimit), nil
}

func (l *Limiter) TierLimit() int {
	return l.tierLimit
}

func (l *Limiter) tierDecision(allowed bool, usage int64) Decision {
	pct := percentOf(usage, l.tierLimit)
	d := Decision{
		Allowed:          allowed,
		TierUsage:        usage,
		TierLimit:        l.tierLimit,
		TierUsagePercent: pct,
		TierWarning:      pct >= constants.TierWarningPercent,
	}
	if !allowed {
		d.RetryAfter = tierBucketSize
	}
	return d
}

func percentOf(usage int64, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(usage) * 100 / float64(limit)
}

func conversationKey(phoneNumberID, recipient string) string {
	return fmt.Sprintf("conversation:%s:%s", phoneNumberID, recipient)
}

func tierKey(phoneNumberID string, hourStart int64) string {
	return fmt.Sprintf("tier:%s#%d", phoneNumberID, hourStart)
}

// tierKeys lists the 24 hourly buckets making up the rolling window ending at now.
func tierKeys(phoneNumberID string, now time.Time) []string {
	hour := now.Truncate(tierBucketSize)
	n := int(tierWindow / tierBucketSize)
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		keys = append(keys, tierKey(phoneNumberID, hour.Add(-time.Duration(i)*tierBucketSize).Unix()))
	}
	return keys
}
