package queue

import (
	"time"

	"github.com/sk-go/actioncore/model/action"
)

// Aging bonus parameters: work waiting longer than agingThreshold gains
// 0.1 points per hour waited, capped at agingCap. This bounds starvation of
// aged low-priority work while still privileging urgent, approved and
// retried items.
const (
	agingThreshold = time.Hour
	agingRate      = 0.1
	agingCap       = 2.0
)

// score computes the dequeue priority of a queued action given how long it
// has waited. Higher scores dequeue first; ties break FIFO on CreatedAt.
func score(a *action.Action, waited time.Duration) float64 {
	total := a.Priority.Weight()
	if a.RequiresApproval && a.Approved() {
		total++
	}
	if a.RetryCount > 0 {
		total += 0.5
	}
	total += agingBonus(waited)
	return total
}

func agingBonus(waited time.Duration) float64 {
	if waited <= agingThreshold {
		return 0
	}
	bonus := waited.Hours() * agingRate
	if bonus > agingCap {
		return agingCap
	}
	return bonus
}
