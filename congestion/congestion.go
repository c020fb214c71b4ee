// Package congestion implements the binary Good/Bad congestion controller,
// outgoing message batching, and bandwidth EMA tracking of spec.md §4.8.
//
// Grounded on original_source/gbnet/src/congestion.rs's
// CongestionController (the Good/Bad state machine shape, can_send pacing
// budget) generalized to spec.md's richer flap-damped recovery timer,
// since the original's controller has a single fixed recovery_time with no
// flap damping.
package congestion

import "time"

// Mode is the binary congestion state.
type Mode uint8

const (
	Good Mode = iota
	Bad
)

func (m Mode) String() string {
	if m == Bad {
		return "bad"
	}
	return "good"
}

const (
	BadRTT  = 250 * time.Millisecond
	BadLoss = 0.05

	GoodRTT  = 100 * time.Millisecond
	GoodLoss = 0.01

	// baseRecoveryTime is the initial/minimum value of t, the duration
	// conditions must stay good before Bad->Good. Not fixed by spec.md;
	// chosen so the very first recovery attempt isn't instant.
	baseRecoveryTime = 1 * time.Second
	maxRecoveryTime  = 60 * time.Second
	// continuousGoodHalvePeriod is how long a Good streak must run before
	// t halves again ("halves after 10s of continuous Good").
	continuousGoodHalvePeriod = 10 * time.Second

	MaxPacketsPerSecGood = 60
	MaxPacketsPerSecBad  = 20
)

// Controller is the per-connection binary congestion controller.
type Controller struct {
	mode         Mode
	recoveryTime time.Duration // current t

	inGoodStreak  bool
	goodStreakAt  time.Time
	goodSinceBad  bool
	goodSinceTime time.Time

	goodRTT, badRTT   time.Duration
	goodLoss, badLoss float64
}

func NewController() *Controller {
	return &Controller{
		mode:         Good,
		recoveryTime: baseRecoveryTime,
		goodRTT:      GoodRTT,
		badRTT:       BadRTT,
		goodLoss:     GoodLoss,
		badLoss:      BadLoss,
	}
}

// NewControllerWithThresholds builds a Controller using caller-supplied
// good/bad RTT and loss-ratio thresholds, per spec.md §6's
// congestion_{good,bad}_{rtt_ms,loss_ratio} configuration surface, instead
// of the package's own defaults.
func NewControllerWithThresholds(goodRTT, badRTT time.Duration, goodLoss, badLoss float64) *Controller {
	c := NewController()
	c.goodRTT, c.badRTT, c.goodLoss, c.badLoss = goodRTT, badRTT, goodLoss, badLoss
	return c
}

// Update folds one tick's observed RTT and loss EMA into the state
// machine.
func (c *Controller) Update(now time.Time, rtt time.Duration, loss float64) {
	isBad := rtt > c.badRTT || loss > c.badLoss
	isGood := rtt < c.goodRTT && loss < c.goodLoss

	switch c.mode {
	case Good:
		if isBad {
			c.mode = Bad
			c.recoveryTime *= 2
			if c.recoveryTime > maxRecoveryTime {
				c.recoveryTime = maxRecoveryTime
			}
			c.inGoodStreak = false
			c.goodSinceBad = false
			return
		}
		if !c.inGoodStreak {
			c.inGoodStreak = true
			c.goodStreakAt = now
		} else if now.Sub(c.goodStreakAt) >= continuousGoodHalvePeriod {
			c.recoveryTime /= 2
			if c.recoveryTime < baseRecoveryTime {
				c.recoveryTime = baseRecoveryTime
			}
			c.goodStreakAt = now
		}
	case Bad:
		if !isGood {
			c.goodSinceBad = false
			return
		}
		if !c.goodSinceBad {
			c.goodSinceBad = true
			c.goodSinceTime = now
			return
		}
		if now.Sub(c.goodSinceTime) >= c.recoveryTime {
			c.mode = Good
			c.goodSinceBad = false
			c.inGoodStreak = true
			c.goodStreakAt = now
		}
	}
}

func (c *Controller) Mode() Mode { return c.mode }

// MaxPacketsPerSec is the current pacing ceiling the batcher/driver must
// honor.
func (c *Controller) MaxPacketsPerSec() int {
	if c.mode == Bad {
		return MaxPacketsPerSecBad
	}
	return MaxPacketsPerSecGood
}

// RecoveryTime exposes the current flap-damped recovery threshold, for
// diagnostics/tests.
func (c *Controller) RecoveryTime() time.Duration { return c.recoveryTime }
