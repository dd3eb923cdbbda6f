package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/Web-Am/buzzer/domain"
)

const defaultSessionQuestion = "Chi merita un punto?"

// SessionService runs the alternate single-contest mode: one shared session,
// a pool of players, +1 presses, a victory recorded for the unique leader at
// expiry.
type SessionService struct {
	store   SessionStore
	tickers PeriodicTickerChannelCreator
}

func NewSessionService(store SessionStore, tickers PeriodicTickerChannelCreator) *SessionService {
	return &SessionService{store: store, tickers: tickers}
}

func (s *SessionService) AddPlayer(ctx context.Context, name string) error {
	if utf8.RuneCountInString(name) < 2 {
		return fmt.Errorf("%w: name must have at least 2 characters", ErrInvalidName)
	}
	_, err := s.store.UpdatePlayer(ctx, name, func(p *domain.SessionPlayer, now int64) (*domain.SessionPlayer, error) {
		if p != nil {
			return p, nil
		}
		return &domain.SessionPlayer{Name: name}, nil
	})
	return err
}

func (s *SessionService) DeletePlayer(ctx context.Context, id string) error {
	return s.store.DeletePlayer(ctx, id)
}

func (s *SessionService) Players(ctx context.Context) (map[string]domain.SessionPlayer, error) {
	return s.store.ListPlayers(ctx)
}

func (s *SessionService) Session(ctx context.Context) (domain.Session, error) {
	return s.store.GetSession(ctx)
}

func (s *SessionService) SetMaxPoints(ctx context.Context, points int) error {
	if points < 1 {
		return fmt.Errorf("%w: max points must be positive", ErrInvalidSettings)
	}
	_, err := s.store.UpdateSession(ctx, func(sess domain.Session, now int64) (domain.Session, error) {
		sess.MaxPoints = points
		return sess, nil
	})
	return err
}

// StartSession zeroes every player's temporary points and opens the contest.
func (s *SessionService) StartSession(ctx context.Context, question string, duration time.Duration) (domain.Session, error) {
	if duration <= 0 {
		return domain.Session{}, fmt.Errorf("%w: duration must be positive", ErrInvalidSettings)
	}
	if question == "" {
		question = defaultSessionQuestion
	}

	players, err := s.store.ListPlayers(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	for id := range players {
		_, err := s.store.UpdatePlayer(ctx, id, func(p *domain.SessionPlayer, now int64) (*domain.SessionPlayer, error) {
			if p == nil {
				return nil, nil
			}
			next := *p
			next.TempPoints = 0
			return &next, nil
		})
		if err != nil {
			return domain.Session{}, err
		}
	}

	return s.store.UpdateSession(ctx, func(sess domain.Session, now int64) (domain.Session, error) {
		return startSession(sess, question, duration.Milliseconds(), now), nil
	})
}

// Press adds one temporary point to the player and pushes the expiry out by
// the session's configured duration. Valid only while the session is active.
func (s *SessionService) Press(ctx context.Context, playerID string) error {
	sess, err := s.store.GetSession(ctx)
	if err != nil {
		return err
	}
	if !sess.Active {
		return fmt.Errorf("%w: no session in progress", ErrInvalidState)
	}

	_, err = s.store.UpdatePlayer(ctx, playerID, func(p *domain.SessionPlayer, now int64) (*domain.SessionPlayer, error) {
		if p == nil {
			return nil, ErrPlayerNotFound
		}
		next := applyPress(*p, sess.MaxPoints)
		return &next, nil
	})
	if err != nil {
		return err
	}

	_, err = s.store.UpdateSession(ctx, func(sess domain.Session, now int64) (domain.Session, error) {
		if !sess.Active {
			// Expired between the press and this write; the press stands,
			// the timer does not restart.
			return sess, nil
		}
		sess.ExpiresAt = now + sess.DurationMs
		sess.LastBidder = playerID
		return sess, nil
	})
	return err
}

// StopSession resolves the session immediately.
func (s *SessionService) StopSession(ctx context.Context) error {
	return s.resolve(ctx, false)
}

var errSessionNotExpired = errors.New("session-not-expired")

// StopSessionIfExpired resolves the session only once its deadline passed,
// judged on the store's clock inside the transform. Idempotent: redundant
// callers see no session to resolve.
func (s *SessionService) StopSessionIfExpired(ctx context.Context) (bool, error) {
	err := s.resolve(ctx, true)
	if errors.Is(err, errSessionNotExpired) || errors.Is(err, ErrAlreadyFinished) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// resolve flips the session inactive (the at-most-once handled flag) and
// records a victory for the unique leader with positive temporary points.
func (s *SessionService) resolve(ctx context.Context, expiredOnly bool) error {
	var question string
	_, err := s.store.UpdateSession(ctx, func(sess domain.Session, now int64) (domain.Session, error) {
		if expiredOnly && sess.Active && now < sess.ExpiresAt {
			return sess, errSessionNotExpired
		}
		next, err := deactivateSession(sess)
		if err != nil {
			return sess, err
		}
		question = next.Question
		return next, nil
	})
	if err != nil {
		return err
	}

	players, err := s.store.ListPlayers(ctx)
	if err != nil {
		return err
	}
	winner, points, ok := sessionWinner(players)
	if !ok {
		return nil
	}

	_, err = s.store.UpdatePlayer(ctx, winner, func(p *domain.SessionPlayer, now int64) (*domain.SessionPlayer, error) {
		if p == nil {
			return nil, ErrPlayerNotFound
		}
		next := appendVictory(*p, domain.Victory{Target: question, PointsUsed: points})
		return &next, nil
	})
	return err
}

func (s *SessionService) DeleteVictory(ctx context.Context, playerID string, index int) error {
	_, err := s.store.UpdatePlayer(ctx, playerID, func(p *domain.SessionPlayer, now int64) (*domain.SessionPlayer, error) {
		if p == nil {
			return nil, ErrPlayerNotFound
		}
		if index < 0 || index >= len(p.Victories) {
			return nil, fmt.Errorf("%w: no victory at index %d", ErrInvalidState, index)
		}
		next := *p
		next.Victories = append(append([]domain.Victory{}, p.Victories[:index]...), p.Victories[index+1:]...)
		return &next, nil
	})
	return err
}

func (s *SessionService) ResetPlayerPoints(ctx context.Context, playerID string) error {
	_, err := s.store.UpdatePlayer(ctx, playerID, func(p *domain.SessionPlayer, now int64) (*domain.SessionPlayer, error) {
		if p == nil {
			return nil, ErrPlayerNotFound
		}
		next := *p
		next.Victories = nil
		return &next, nil
	})
	return err
}

// ExpiryActor is the session counterpart of the room sweeper.
func (s *SessionService) ExpiryActor(ctx context.Context, started chan struct{}) {
	tick := s.tickers.Create(time.Millisecond * 250)

	close(started)

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			if _, err := s.StopSessionIfExpired(ctx); err != nil {
				slog.Warn("session expiry sweep failed", "error", err)
			}
		}
	}
}
