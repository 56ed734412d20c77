// Package backoff computes the delay schedules used between retry attempts.
package backoff

import (
	"math/rand"
	"time"
)

// Params are the inputs shared by every strategy.
type Params struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the fraction of the delay added at random, clamped to [0, 1].
	Jitter float64
}

// Strategy maps a zero-based retry number to the delay before that retry.
type Strategy interface {
	Delay(retry int, p Params) time.Duration
}

// Constant waits Initial before every retry.
type Constant struct{}

// Delay implements Strategy.
func (Constant) Delay(_ int, p Params) time.Duration {
	return capAt(p.Initial, p.Max)
}

// ExponentialJitter grows the delay by Multiplier per retry, capped at Max,
// plus up to Jitter*delay of uniform noise.
type ExponentialJitter struct {
	// Rand draws the jitter fraction; math/rand when nil.
	Rand func() float64
}

// Delay implements Strategy.
func (s ExponentialJitter) Delay(retry int, p Params) time.Duration {
	if retry < 0 {
		retry = 0
	}
	// Prevent overflow by limiting the exponent
	if retry > 30 {
		retry = 30
	}

	delay := time.Duration(float64(p.Initial) * Pow(p.Multiplier, retry))
	delay = capAt(delay, p.Max)

	jitter := clampJitter(p.Jitter)
	if jitter > 0 {
		delay += time.Duration(float64(delay) * jitter * s.draw())
		delay = capAt(delay, p.Max)
	}
	return delay
}

func (s ExponentialJitter) draw() float64 {
	if s.Rand != nil {
		return s.Rand()
	}
	return rand.Float64()
}

// Decorrelated draws each delay uniformly from [Initial, min(Max, Initial*3^retry)].
// See https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
type Decorrelated struct {
	Rand func() float64
}

// Delay implements Strategy.
func (s Decorrelated) Delay(retry int, p Params) time.Duration {
	if retry <= 0 {
		return capAt(p.Initial, p.Max)
	}
	if retry > 10 {
		retry = 10
	}

	base := float64(p.Initial)
	upper := base * Pow(3.0, retry)
	if p.Max > 0 && (upper > float64(p.Max) || upper < 0) {
		upper = float64(p.Max)
	}
	if upper < base {
		upper = base
	}

	draw := rand.Float64
	if s.Rand != nil {
		draw = s.Rand
	}
	return capAt(time.Duration(base+draw()*(upper-base)), p.Max)
}

// capAt limits d to max; a non-positive max means uncapped.
func capAt(d, max time.Duration) time.Duration {
	if max > 0 && (d < 0 || d > max) {
		return max
	}
	if d < 0 {
		return 0
	}
	return d
}

// clampJitter ensures jitter is within valid bounds [0, 1].
func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

// Pow calculates base^exponent using integer exponentiation.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
