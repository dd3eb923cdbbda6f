package game

import (
	"fmt"

	"github.com/Web-Am/buzzer/domain"
)

// BidCheck is the result of an eligibility check. RequiredCost is always
// populated; on success the caller must commit exactly that amount, not the
// raw tier.
type BidCheck struct {
	Allowed      bool
	Reason       string
	RequiredCost int
	Available    int
}

// CanBid decides whether userKey may place a bid of the given tier against
// the current bid set. The available balance is derived with the round's own
// bid for that user as a fallback, so a committed bid whose ledger write has
// not landed yet still counts as spent.
func CanBid(p domain.Participant, userKey string, bids map[string]domain.Bid, tier int) (BidCheck, error) {
	required := RequiredCost(bids, tier)

	var ownBid *domain.Bid
	if bid, ok := bids[userKey]; ok {
		ownBid = &bid
	}
	available := p.PointsAvailable(ownBid)

	check := BidCheck{RequiredCost: required, Available: available}

	if available < required {
		check.Reason = fmt.Sprintf("need %d points, have %d", required, available)
		return check, fmt.Errorf("%w: %s", ErrInsufficientPoints, check.Reason)
	}

	if leader, ok := CurrentLeader(bids); ok && leader.UserKey == userKey {
		check.Reason = "already the current leader"
		return check, fmt.Errorf("%w: %s", ErrAlreadyLeading, check.Reason)
	}

	check.Allowed = true
	return check, nil
}
