package shipping

import (
	"strings"

	"github.com/marketbase/fulfillment/internal/domain"
)

// movementPatterns maps carrier phrasing onto the canonical 1-6 movement
// levels. The table is deliberately lossy: carriers keep inventing wording,
// so several vocabularies collapse onto one level and anything unrecognized
// is treated as in transit rather than failing the sync. New phrasings are a
// row here, not a code change.
var movementPatterns = []struct {
	keyword string
	level   int
}{
	// 1: preparing
	{"information received", domain.MovementPreparing},
	{"label created", domain.MovementPreparing},
	{"preparing", domain.MovementPreparing},
	{"ready for pickup", domain.MovementPreparing},
	// 2: picked up
	{"picked up", domain.MovementPickedUp},
	{"collected", domain.MovementPickedUp},
	{"accepted by carrier", domain.MovementPickedUp},
	{"pickup complete", domain.MovementPickedUp},
	// 4: at hub (before "in transit" so "arrived at hub, in transit soon"
	// style strings resolve to the more specific level)
	{"arrived at hub", domain.MovementAtHub},
	{"arrived at facility", domain.MovementAtHub},
	{"at sorting", domain.MovementAtHub},
	{"processed through", domain.MovementAtHub},
	// 5: out for delivery
	{"out for delivery", domain.MovementOutForDelivery},
	{"delivery scheduled today", domain.MovementOutForDelivery},
	{"with courier", domain.MovementOutForDelivery},
	// 6: delivered
	{"delivered", domain.MovementDelivered},
	{"delivery complete", domain.MovementDelivered},
	{"left with recipient", domain.MovementDelivered},
	// 3: in transit (also the fallback below)
	{"in transit", domain.MovementInTransit},
	{"departed", domain.MovementInTransit},
	{"line-haul", domain.MovementInTransit},
	{"forwarded", domain.MovementInTransit},
}

// MovementLevel normalizes raw carrier status text to a movement level.
func MovementLevel(statusText string) int {
	text := strings.ToLower(statusText)
	for _, p := range movementPatterns {
		if strings.Contains(text, p.keyword) {
			return p.level
		}
	}
	return domain.MovementInTransit
}
