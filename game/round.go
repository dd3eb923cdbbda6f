package game

import (
	"fmt"

	"github.com/Web-Am/buzzer/domain"
)

// Round lifecycle transforms. Each function is pure over its inputs and is
// meant to run inside a store transform, so concurrent callers against the
// same record are serialized by the store, not by us.

func startRound(round *domain.Round, question string, maxPoints int, timerMs int64, now int64) (*domain.Round, error) {
	if round != nil && round.Status == domain.RoundInProgress {
		return nil, fmt.Errorf("%w: a round is already in progress", ErrInvalidState)
	}
	return &domain.Round{
		Question:  question,
		MaxPoints: maxPoints,
		Status:    domain.RoundInProgress,
		StartTs:   now,
		TimerMs:   timerMs,
		Bids:      map[string]domain.Bid{},
	}, nil
}

// applyBid recomputes the required cost from the record's own bid set; a
// precomputed cost from an earlier read is never trusted. On success the
// participant's previous bid is overwritten (latest bid stands) and the
// countdown restarts from now.
func applyBid(round *domain.Round, p domain.Participant, userKey string, tier int, now int64) (*domain.Round, domain.Bid, error) {
	if round == nil {
		return nil, domain.Bid{}, fmt.Errorf("%w: no round in progress", ErrRoundNotFound)
	}
	if round.Status != domain.RoundInProgress {
		return nil, domain.Bid{}, fmt.Errorf("%w: round is finished", ErrInvalidState)
	}

	check, err := CanBid(p, userKey, round.Bids, tier)
	if err != nil {
		return nil, domain.Bid{}, err
	}

	bid := domain.Bid{
		UserKey:    userKey,
		PointsUsed: check.RequiredCost,
		ServerTs:   now,
		Target:     tierTarget(tier),
		Tier:       tier,
	}

	next := *round
	next.Bids = make(map[string]domain.Bid, len(round.Bids)+1)
	for k, v := range round.Bids {
		next.Bids[k] = v
	}
	next.Bids[userKey] = bid
	next.StartTs = now
	return &next, bid, nil
}

// finishRound resolves the round. The IN_PROGRESS to FINISHED transition
// inside the atomic transform is the one-time handled flag: of N racing
// finish callers exactly one sees IN_PROGRESS and computes the winner.
func finishRound(round *domain.Round, now int64) (*domain.Round, error) {
	if round == nil {
		return nil, fmt.Errorf("%w: no round to finish", ErrRoundNotFound)
	}
	if round.Status == domain.RoundFinished {
		return nil, ErrAlreadyFinished
	}

	next := *round
	next.Status = domain.RoundFinished
	next.EndTs = now
	if leader, ok := CurrentLeader(round.Bids); ok {
		next.Winner = leader.UserKey
		// The prize is the round's configured award, not the points spent
		// to hold the lead.
		next.WinnerPoints = round.MaxPoints
	}
	return &next, nil
}

func resetRound(round *domain.Round) (*domain.Round, error) {
	if round == nil {
		return nil, fmt.Errorf("%w: no round to reset", ErrRoundNotFound)
	}
	if round.Status != domain.RoundFinished {
		return nil, fmt.Errorf("%w: round still in progress", ErrInvalidState)
	}
	return nil, nil
}

func roundExpired(round *domain.Round, now int64) bool {
	if round == nil || round.Status != domain.RoundInProgress {
		return false
	}
	return now-round.StartTs >= round.TimerMs
}

func roundRemainingMs(round *domain.Round, now int64) int64 {
	if round == nil || round.Status != domain.RoundInProgress {
		return 0
	}
	remaining := round.TimerMs - (now - round.StartTs)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func tierTarget(tier int) string {
	if tier == 1 {
		return "BUZZ"
	}
	return fmt.Sprintf("+%d", tier)
}
