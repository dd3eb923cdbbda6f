package domain

import (
	"encoding/json"
	"fmt"
)

// Session is the alternate single-contest mode: one shared question, a pool
// of players, fixed +1 increments, no tiered cost ladder.
type Session struct {
	Active     bool   `json:"sessionActive"`
	Question   string `json:"currentQuestion"`
	ExpiresAt  int64  `json:"sessionTimerExpiresAt"`
	DurationMs int64  `json:"sessionDuration"`
	LastBidder string `json:"lastVoterId,omitempty"`
	MaxPoints  int    `json:"maxPoints"`
}

type Victory struct {
	Target     string `json:"targetName"`
	PointsUsed int    `json:"pointsUsed"`
}

type SessionPlayer struct {
	Name       string    `json:"name"`
	TempPoints int       `json:"tempPoints"`
	Victories  []Victory `json:"victories,omitempty"`
}

// PointsUsed is the sum of all recorded victories.
func (p SessionPlayer) PointsUsed() int {
	sum := 0
	for _, v := range p.Victories {
		sum += v.PointsUsed
	}
	return sum
}

func (s Session) Validate() error {
	if s.DurationMs < 0 || s.MaxPoints < 0 {
		return fmt.Errorf("%w: negative session settings", ErrMalformedRecord)
	}
	if s.Active && s.ExpiresAt == 0 {
		return fmt.Errorf("%w: active session without expiry", ErrMalformedRecord)
	}
	return nil
}

func (p SessionPlayer) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: session player without name", ErrMalformedRecord)
	}
	if p.TempPoints < 0 {
		return fmt.Errorf("%w: negative temp points for %q", ErrMalformedRecord, p.Name)
	}
	return nil
}

func ParseSession(data []byte) (Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	if err := s.Validate(); err != nil {
		return Session{}, err
	}
	return s, nil
}

func ParseSessionPlayer(data []byte) (SessionPlayer, error) {
	var p SessionPlayer
	if err := json.Unmarshal(data, &p); err != nil {
		return SessionPlayer{}, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	if err := p.Validate(); err != nil {
		return SessionPlayer{}, err
	}
	return p, nil
}
