package ratelimiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/notifyhub/stock-alerts/internal/domain"
)

// ChannelLimiters holds one token bucket per channel, created on first use.
// Burst equals the rate so no saved-up burst exceeds the per-second maximum.
type ChannelLimiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[domain.Channel]*rate.Limiter
}

// New creates a ChannelLimiters with ratePerSec tokens per second per
// channel. A non-positive rate disables limiting.
func New(ratePerSec int) *ChannelLimiters {
	cl := &ChannelLimiters{
		limit:    rate.Limit(ratePerSec),
		burst:    ratePerSec,
		limiters: make(map[domain.Channel]*rate.Limiter),
	}
	if ratePerSec <= 0 {
		cl.limit = rate.Inf
		cl.burst = 1
	}
	return cl
}

// Wait blocks until the channel's limiter grants a token. It returns a
// non-nil error only if ctx is cancelled while waiting.
func (cl *ChannelLimiters) Wait(ctx context.Context, ch domain.Channel) error {
	return cl.limiter(ch).Wait(ctx)
}

func (cl *ChannelLimiters) limiter(ch domain.Channel) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	l, ok := cl.limiters[ch]
	if !ok {
		l = rate.NewLimiter(cl.limit, cl.burst)
		cl.limiters[ch] = l
	}
	return l
}
