package infra

import (
	"time"

	"golang.org/x/time/rate"
)

// RateGate is a token-refill throttle for noisy conditions such as repeated
// connection errors. It starts full: the first burst passes, after that one
// token comes back every 1/refillPerSec seconds.
type RateGate struct {
	limiter *rate.Limiter
}

// NewRateGate creates a gate holding at most maxTokens tokens.
func NewRateGate(maxTokens int, refillPerSec float64) *RateGate {
	return &RateGate{limiter: rate.NewLimiter(rate.Limit(refillPerSec), maxTokens)}
}

// Allow takes a token if one is available.
func (g *RateGate) Allow() bool {
	return g.AllowAt(time.Now())
}

// AllowAt is Allow with an explicit clock.
func (g *RateGate) AllowAt(now time.Time) bool {
	return g.limiter.AllowN(now, 1)
}

// Tokens reports the tokens currently available.
func (g *RateGate) Tokens() float64 {
	return g.limiter.Tokens()
}
