package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// RefundTier grants Percent of the paid amount when the cancellation happens
// DaysBefore or more full days before the event starts.
type RefundTier struct {
	DaysBefore int `json:"days_before"`
	Percent    int `json:"percent"`
}

// RefundPolicy is the event snapshot CalculateRefund works from.
type RefundPolicy struct {
	EventType                 EventType
	Price                     float64
	RefundEnabled             bool
	CancellationDeadlineHours int
	Tiers                     []RefundTier
	StartDate                 time.Time
}

type RefundQuote struct {
	Eligible bool    `json:"eligible"`
	Percent  int     `json:"percent"`
	Amount   float64 `json:"amount"`
	Reason   string  `json:"reason"`
}

// CalculateRefund quotes the refund for cancelling at asOf under the given
// policy. It is a pure function: same inputs, same quote. The gates run in
// order and the first failing one decides the reason; once past the deadline
// gate the quote is always eligible, a window no tier covers just refunds 0%.
func CalculateRefund(p RefundPolicy, asOf time.Time) RefundQuote {
	if p.EventType != EventTypePaid || p.Price <= 0 {
		return RefundQuote{Reason: "Free events are not eligible for refunds."}
	}
	if !p.RefundEnabled {
		return RefundQuote{Reason: "Refunds are not enabled for this event."}
	}
	if !asOf.Before(p.StartDate) {
		return RefundQuote{Reason: "Event has already occurred."}
	}

	hoursUntil := p.StartDate.Sub(asOf).Hours()
	if hoursUntil < float64(p.CancellationDeadlineHours) {
		return RefundQuote{Reason: fmt.Sprintf(
			"Cancellation deadline of %d hours before the event has passed.",
			p.CancellationDeadlineHours,
		)}
	}

	daysBefore := int(math.Floor(hoursUntil / 24))
	for _, t := range sortedTiers(p.Tiers) {
		if daysBefore >= t.DaysBefore {
			return RefundQuote{
				Eligible: true,
				Percent:  t.Percent,
				Amount:   RoundMoney(p.Price * float64(t.Percent) / 100),
				Reason:   fmt.Sprintf("%d%% refund for cancelling %d+ days before the event.", t.Percent, t.DaysBefore),
			}
		}
	}
	return RefundQuote{
		Eligible: true,
		Percent:  0,
		Amount:   0,
		Reason:   "No refund tier covers this cancellation window.",
	}
}

// NormalizeTiers validates a tier set and returns it sorted by DaysBefore
// descending, the order CalculateRefund walks them in.
func NormalizeTiers(tiers []RefundTier) ([]RefundTier, error) {
	out := sortedTiers(tiers)
	for i, t := range out {
		if t.DaysBefore < 0 {
			return nil, Validationf("refund tier days_before must not be negative, got %d", t.DaysBefore)
		}
		if t.Percent < 0 || t.Percent > 100 {
			return nil, Validationf("refund tier percent must be between 0 and 100, got %d", t.Percent)
		}
		if i > 0 && out[i-1].DaysBefore == t.DaysBefore {
			return nil, Validationf("refund tiers overlap at days_before=%d", t.DaysBefore)
		}
	}
	return out, nil
}

func sortedTiers(tiers []RefundTier) []RefundTier {
	out := make([]RefundTier, len(tiers))
	copy(out, tiers)
	sort.Slice(out, func(i, j int) bool { return out[i].DaysBefore > out[j].DaysBefore })
	return out
}

// RoundMoney rounds to two decimal places, half away from zero. All monetary
// amounts are rounded exactly once, at the point they are computed.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
