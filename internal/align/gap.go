package align

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
)

// SlotLayout formats an observation's time slot.
const SlotLayout = "15:04"

// ComputeGap derives the spread observation for one aligned point:
// gap_1 = next - near and gap_2 = far - next. The observation is stamped
// with the latest participating tick, bucketed to the minute in loc.
func ComputeGap(instrumentID int64, p domain.AlignedPoint, loc *time.Location) (domain.GapObservation, error) {
	if loc == nil {
		loc = time.UTC
	}

	obs := domain.GapObservation{InstrumentID: instrumentID}
	if p.Near != nil && p.Next != nil {
		obs.Gap1 = domain.Float(p.Next.Price - p.Near.Price)
	}
	if p.Next != nil && p.Far != nil {
		obs.Gap2 = domain.Float(p.Far.Price - p.Next.Price)
	}
	if obs.Gap1 == nil && obs.Gap2 == nil {
		return domain.GapObservation{}, fmt.Errorf("align: instrument %d: %w", instrumentID, domain.ErrInsufficientLegs)
	}

	if p.Near != nil {
		obs.Price1 = domain.Float(p.Near.Price)
	}
	if p.Next != nil {
		obs.Price2 = domain.Float(p.Next.Price)
	}
	if p.Far != nil {
		obs.Price3 = domain.Float(p.Far.Price)
	}

	local := pointTime(p).In(loc)
	obs.ObservedAt = local
	obs.Date = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	obs.TimeSlot = local.Format(SlotLayout)
	return obs, nil
}
