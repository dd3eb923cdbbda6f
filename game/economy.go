package game

import "github.com/Web-Am/buzzer/domain"

// Leader is the bid currently holding the round.
type Leader struct {
	UserKey    string
	PointsUsed int
}

// CurrentLeader returns the bid with the highest committed points. A leader
// must be unique: with no bids, or with two bids tied at the top, there is no
// leader and ok is false. Ties cannot arise from accepted bids (the cost
// ladder is strictly increasing) but may appear in malformed snapshots.
func CurrentLeader(bids map[string]domain.Bid) (Leader, bool) {
	max := 0
	count := 0
	leader := Leader{}
	for key, bid := range bids {
		switch {
		case bid.PointsUsed > max:
			max = bid.PointsUsed
			count = 1
			leader = Leader{UserKey: key, PointsUsed: bid.PointsUsed}
		case bid.PointsUsed == max && max > 0:
			count++
		}
	}
	if count != 1 {
		return Leader{}, false
	}
	return leader, true
}

// RequiredCost computes what the next bid must commit: the chosen tier on an
// empty round, otherwise the highest committed points plus the tier. The cost
// deliberately steps off the maximum rather than the unique leader so that it
// stays strictly increasing even over a (malformed) tied snapshot.
func RequiredCost(bids map[string]domain.Bid, tier int) int {
	max := 0
	for _, bid := range bids {
		if bid.PointsUsed > max {
			max = bid.PointsUsed
		}
	}
	return max + tier
}
