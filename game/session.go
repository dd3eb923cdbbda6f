package game

import (
	"fmt"

	"github.com/Web-Am/buzzer/domain"
)

// Session-variant transforms. Same anti-sniping and handled-flag patterns as
// the round lifecycle, with a flat +1 economy instead of the tiered ladder.

func startSession(s domain.Session, question string, durationMs int64, now int64) domain.Session {
	s.Active = true
	s.Question = question
	s.DurationMs = durationMs
	s.ExpiresAt = now + durationMs
	s.LastBidder = ""
	return s
}

// applyPress adds one temporary point, capped at the session's max.
func applyPress(p domain.SessionPlayer, cap int) domain.SessionPlayer {
	if cap > 0 && p.TempPoints >= cap {
		return p
	}
	p.TempPoints++
	return p
}

// deactivateSession flips the session to idle. The Active transition is the
// one-time handled flag for resolution: it fails for every caller but the
// first, so the winner is computed at most once per session.
func deactivateSession(s domain.Session) (domain.Session, error) {
	if !s.Active {
		return s, fmt.Errorf("%w: session is not active", ErrAlreadyFinished)
	}
	s.Active = false
	s.ExpiresAt = 0
	return s, nil
}

// sessionWinner returns the unique player holding the maximum temporary
// points, provided that maximum is positive. Ties produce no winner.
func sessionWinner(players map[string]domain.SessionPlayer) (string, int, bool) {
	max := 0
	count := 0
	winner := ""
	for id, p := range players {
		switch {
		case p.TempPoints > max:
			max = p.TempPoints
			count = 1
			winner = id
		case p.TempPoints == max && max > 0:
			count++
		}
	}
	if count != 1 {
		return "", 0, false
	}
	return winner, max, true
}

// appendVictory records a victory, skipping an exact duplicate of the last
// entry so a redundantly delivered resolution cannot double-record.
func appendVictory(p domain.SessionPlayer, v domain.Victory) domain.SessionPlayer {
	if n := len(p.Victories); n > 0 {
		last := p.Victories[n-1]
		if last.Target == v.Target && last.PointsUsed == v.PointsUsed {
			return p
		}
	}
	victories := make([]domain.Victory, len(p.Victories), len(p.Victories)+1)
	copy(victories, p.Victories)
	p.Victories = append(victories, v)
	return p
}
