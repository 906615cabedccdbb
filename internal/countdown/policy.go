package countdown

import (
	"fmt"
	"strconv"
	"time"

	"roombot/internal/catalog"
)

// Policy is the checkpoint table. Tiers are evaluated in order and at most
// one message is produced per tick.
type Policy struct {
	// remaining > LongFrom and remaining%LongEvery == 0
	LongFrom  int
	LongEvery int
	// ShortFloor < remaining <= LongFrom and remaining%ShortEvery == 0
	ShortFloor int
	ShortEvery int
	// 0 < remaining <= FinalSeconds; 0 disables the per-second tier.
	FinalSeconds int
	// At remaining <= FinishWithin the tick is replaced by a one-shot aimed at the end time.
	FinishWithin int
	// Gap between the finale and each following flourish.
	FlourishEvery time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		LongFrom:      30,
		LongEvery:     30,
		ShortFloor:    10,
		ShortEvery:    10,
		FinalSeconds:  0,
		FinishWithin:  3,
		FlourishEvery: time.Second,
	}
}

func (p Policy) Validate() error {
	switch {
	case p.LongEvery <= 0 || p.ShortEvery <= 0:
		return fmt.Errorf("countdown policy: long_every and short_every must be positive")
	case p.LongFrom < p.ShortFloor:
		return fmt.Errorf("countdown policy: long_from (%d) below short_floor (%d)", p.LongFrom, p.ShortFloor)
	case p.FinalSeconds < 0 || p.FinishWithin < 0:
		return fmt.Errorf("countdown policy: final_seconds and finish_within must not be negative")
	case p.FlourishEvery < 0:
		return fmt.Errorf("countdown policy: flourish_every must not be negative")
	}
	return nil
}

// Checkpoint returns the message for a tick with the given remaining seconds.
func (p Policy) Checkpoint(remaining int) (catalog.Key, bool) {
	switch {
	case remaining <= 0:
		return "", false
	case remaining > p.LongFrom && remaining%p.LongEvery == 0:
		return catalog.TokeRemaining, true
	case remaining > p.ShortFloor && remaining <= p.LongFrom && remaining%p.ShortEvery == 0:
		return catalog.TokeShort, true
	case remaining <= p.FinalSeconds:
		return catalog.TokeFinalSecond, true
	}
	return "", false
}

func seconds(n int) string { return strconv.Itoa(n) }
