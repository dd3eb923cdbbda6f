package domain

import (
	"encoding/json"
	"fmt"
)

type RoundStatus string

const (
	RoundInProgress RoundStatus = "IN_PROGRESS"
	RoundFinished   RoundStatus = "FINISHED"
)

type RoomSettings struct {
	TotalPoints int   `json:"totalPoints"`
	CountdownMs int64 `json:"timerCountdown"`
}

type RoundWon struct {
	Question      string `json:"questionText"`
	PointsAwarded int    `json:"pointsAwarded"`
	Timestamp     int64  `json:"timestamp"`
}

type Participant struct {
	Name        string     `json:"name"`
	Online      bool       `json:"isOnline"`
	PointsTotal int        `json:"pointsTotal"`
	PointsUsed  int        `json:"pointsUsed"`
	RoundsWon   []RoundWon `json:"roundsWon,omitempty"`
}

// Bid is one participant's claim on the round's lead. ServerTs is assigned
// by the store at commit time, never by the client.
type Bid struct {
	UserKey    string `json:"userId"`
	PointsUsed int    `json:"pointsUsed"`
	ServerTs   int64  `json:"serverTs"`
	Target     string `json:"targetText"`
	Tier       int    `json:"value"`
}

type Round struct {
	Question     string         `json:"questionText"`
	MaxPoints    int            `json:"maxPoints"`
	Status       RoundStatus    `json:"status"`
	StartTs      int64          `json:"startTs"`
	EndTs        int64          `json:"endTs,omitempty"`
	TimerMs      int64          `json:"timerMs"`
	Bids         map[string]Bid `json:"presses,omitempty"`
	Winner       string         `json:"winner,omitempty"`
	WinnerPoints int            `json:"winnerPoints,omitempty"`
}

type Room struct {
	Code         string                 `json:"code"`
	MasterKey    string                 `json:"masterKey"`
	CreatedAt    int64                  `json:"createdAt"`
	UpdatedAt    int64                  `json:"updatedAt"`
	Settings     RoomSettings           `json:"settings"`
	Participants map[string]Participant `json:"participants,omitempty"`
	CurrentRound *Round                 `json:"currentRound,omitempty"`
}

// PointsAvailable is the budget a participant can still commit. When the
// round record and the participant ledger disagree (the bid committed but the
// ledger write has not landed yet), the round's own bid is authoritative.
func (p Participant) PointsAvailable(ownBid *Bid) int {
	used := p.PointsUsed
	if ownBid != nil && ownBid.PointsUsed > used {
		used = ownBid.PointsUsed
	}
	return p.PointsTotal - used
}

// PointsUsedFromWins derives the cumulative spend from the rounds-won
// history, mirroring how snapshots are assembled for the leaderboard.
func (p Participant) PointsUsedFromWins() int {
	sum := 0
	for _, w := range p.RoundsWon {
		sum += w.PointsAwarded
	}
	return sum
}

func (s RoomSettings) Validate() error {
	if s.TotalPoints < 100 {
		return fmt.Errorf("%w: totalPoints %d below minimum 100", ErrMalformedRecord, s.TotalPoints)
	}
	if s.CountdownMs < 3000 {
		return fmt.Errorf("%w: timerCountdown %dms below minimum 3000ms", ErrMalformedRecord, s.CountdownMs)
	}
	return nil
}

func (b Bid) Validate() error {
	if b.UserKey == "" {
		return fmt.Errorf("%w: bid without user key", ErrMalformedRecord)
	}
	if b.PointsUsed <= 0 {
		return fmt.Errorf("%w: bid with non-positive points", ErrMalformedRecord)
	}
	return nil
}

func (p Participant) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: participant without name", ErrMalformedRecord)
	}
	if p.PointsTotal < 0 || p.PointsUsed < 0 {
		return fmt.Errorf("%w: negative points on participant %q", ErrMalformedRecord, p.Name)
	}
	if p.PointsUsed > p.PointsTotal {
		return fmt.Errorf("%w: participant %q spent %d of %d", ErrMalformedRecord, p.Name, p.PointsUsed, p.PointsTotal)
	}
	return nil
}

func (r Round) Validate() error {
	if r.Status != RoundInProgress && r.Status != RoundFinished {
		return fmt.Errorf("%w: unknown round status %q", ErrMalformedRecord, r.Status)
	}
	if r.TimerMs <= 0 {
		return fmt.Errorf("%w: round without timer", ErrMalformedRecord)
	}
	for key, bid := range r.Bids {
		if err := bid.Validate(); err != nil {
			return err
		}
		if bid.UserKey != key {
			return fmt.Errorf("%w: bid keyed %q claims user %q", ErrMalformedRecord, key, bid.UserKey)
		}
	}
	return nil
}

func (r Room) Validate() error {
	if r.Code == "" {
		return fmt.Errorf("%w: room without code", ErrMalformedRecord)
	}
	if err := r.Settings.Validate(); err != nil {
		return err
	}
	for _, p := range r.Participants {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	if r.CurrentRound != nil {
		return r.CurrentRound.Validate()
	}
	return nil
}

// ParseRoom is the boundary constructor for room snapshots coming out of the
// shared store. Anything malformed is rejected here so the rest of the code
// can trust the shape.
func ParseRoom(data []byte) (Room, error) {
	var room Room
	if err := json.Unmarshal(data, &room); err != nil {
		return Room{}, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	if err := room.Validate(); err != nil {
		return Room{}, err
	}
	return room, nil
}

func ParseRound(data []byte) (Round, error) {
	var round Round
	if err := json.Unmarshal(data, &round); err != nil {
		return Round{}, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	if err := round.Validate(); err != nil {
		return Round{}, err
	}
	return round, nil
}

func ParseParticipant(data []byte) (Participant, error) {
	var p Participant
	if err := json.Unmarshal(data, &p); err != nil {
		return Participant{}, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	if err := p.Validate(); err != nil {
		return Participant{}, err
	}
	return p, nil
}
