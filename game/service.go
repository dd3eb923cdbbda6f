package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Web-Am/buzzer/domain"
)

const roomCodeAttempts = 3

// RoomService is the façade over the round state machine and point economy.
// It holds no game state itself: every mutation goes through the store's
// atomic transforms, so any number of service instances can serve the same
// room.
type RoomService struct {
	rooms   RoomStore
	archive ResultArchiver
	codes   UniqueCodeGenerator
	tickers PeriodicTickerChannelCreator

	watchChan   chan string
	unwatchChan chan string
}

func NewRoomService(rooms RoomStore, archive ResultArchiver, codes UniqueCodeGenerator, tickers PeriodicTickerChannelCreator) *RoomService {
	return &RoomService{
		rooms:       rooms,
		archive:     archive,
		codes:       codes,
		tickers:     tickers,
		watchChan:   make(chan string, 64),
		unwatchChan: make(chan string, 64),
	}
}

func (s *RoomService) CreateRoom(ctx context.Context, masterKey string, settings domain.RoomSettings) (domain.Room, error) {
	if settings.TotalPoints < 100 {
		return domain.Room{}, fmt.Errorf("%w: totalPoints must be at least 100", ErrInvalidSettings)
	}
	if settings.CountdownMs < 3000 {
		return domain.Room{}, fmt.Errorf("%w: countdown must be at least 3000ms", ErrInvalidSettings)
	}

	now := time.Now().UnixMilli()
	var lastErr error
	for attempt := 0; attempt < roomCodeAttempts; attempt++ {
		room := domain.Room{
			Code:         s.codes.Generate(),
			MasterKey:    masterKey,
			CreatedAt:    now,
			UpdatedAt:    now,
			Settings:     settings,
			Participants: map[string]domain.Participant{},
		}
		err := s.rooms.CreateRoom(ctx, room)
		if err == nil {
			s.watch(room.Code)
			return room, nil
		}
		if !errors.Is(err, ErrRoomExists) {
			return domain.Room{}, err
		}
		lastErr = err
	}
	return domain.Room{}, fmt.Errorf("failed to generate a unique room code: %w", lastErr)
}

// JoinRoom creates the participant if absent, with the room's configured
// budget, and marks them online. Rejoining keeps the existing ledger.
func (s *RoomService) JoinRoom(ctx context.Context, code, email, name string) (string, error) {
	if utf8.RuneCountInString(name) < 2 {
		return "", fmt.Errorf("%w: name must have at least 2 characters", ErrInvalidName)
	}

	room, err := s.rooms.GetRoom(ctx, code)
	if err != nil {
		return "", err
	}

	key := domain.SanitizeKey(email)
	_, err = s.rooms.UpdateParticipant(ctx, code, key, func(p *domain.Participant, now int64) (*domain.Participant, error) {
		if p == nil {
			return &domain.Participant{
				Name:        name,
				Online:      true,
				PointsTotal: room.Settings.TotalPoints,
			}, nil
		}
		next := *p
		next.Online = true
		return &next, nil
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (s *RoomService) LeaveRoom(ctx context.Context, code, key string) error {
	_, err := s.rooms.UpdateParticipant(ctx, code, key, func(p *domain.Participant, now int64) (*domain.Participant, error) {
		if p == nil {
			return nil, ErrParticipantNotFound
		}
		next := *p
		next.Online = false
		return &next, nil
	})
	return err
}

func (s *RoomService) RemoveParticipant(ctx context.Context, code, key string) error {
	_, err := s.rooms.UpdateParticipant(ctx, code, key, func(p *domain.Participant, now int64) (*domain.Participant, error) {
		if p == nil {
			return nil, ErrParticipantNotFound
		}
		return nil, nil
	})
	return err
}

func (s *RoomService) GetRoom(ctx context.Context, code string) (domain.Room, error) {
	return s.rooms.GetRoom(ctx, code)
}

func (s *RoomService) DeleteRoom(ctx context.Context, code string) error {
	s.unwatch(code)
	return s.rooms.DeleteRoom(ctx, code)
}

func (s *RoomService) SubscribeRoom(ctx context.Context, code string) (<-chan domain.Room, func(), error) {
	return s.rooms.SubscribeRoom(ctx, code)
}

// StartRound begins a new bidding contest. The countdown comes from the
// room's settings, the prize from the master's request.
func (s *RoomService) StartRound(ctx context.Context, code, question string, maxPoints int) (domain.Round, error) {
	room, err := s.rooms.GetRoom(ctx, code)
	if err != nil {
		return domain.Round{}, err
	}

	round, err := s.rooms.UpdateRound(ctx, code, func(round *domain.Round, now int64) (*domain.Round, error) {
		return startRound(round, question, maxPoints, room.Settings.CountdownMs, now)
	})
	if err != nil {
		return domain.Round{}, err
	}
	s.watch(code)
	return *round, nil
}

// SubmitBid runs the two-step commit: one atomic transform on the round
// record, then one on the participant's ledger. The two are not a global
// transaction; between them the ledger may lag the round, which balance
// reads tolerate by re-deriving from the round's own bid (see CanBid).
func (s *RoomService) SubmitBid(ctx context.Context, code, userKey string, tier int) (domain.Bid, error) {
	if tier < 1 {
		return domain.Bid{}, fmt.Errorf("%w: tier must be positive", ErrInvalidTier)
	}

	room, err := s.rooms.GetRoom(ctx, code)
	if err != nil {
		return domain.Bid{}, err
	}
	participant, ok := room.Participants[userKey]
	if !ok {
		return domain.Bid{}, ErrParticipantNotFound
	}

	var bid domain.Bid
	_, err = s.rooms.UpdateRound(ctx, code, func(round *domain.Round, now int64) (*domain.Round, error) {
		next, accepted, err := applyBid(round, participant, userKey, tier, now)
		if err != nil {
			return nil, err
		}
		bid = accepted
		return next, nil
	})
	if err != nil {
		return domain.Bid{}, err
	}

	_, err = s.rooms.UpdateParticipant(ctx, code, userKey, func(p *domain.Participant, now int64) (*domain.Participant, error) {
		if p == nil {
			return nil, ErrParticipantNotFound
		}
		next := *p
		// Spend is monotonically non-decreasing; an older in-flight write
		// must never lower it.
		if bid.PointsUsed > next.PointsUsed {
			next.PointsUsed = bid.PointsUsed
		}
		return &next, nil
	})
	if err != nil {
		slog.Error("bid committed but ledger update failed",
			"room", code,
			"participant", userKey,
			"points", bid.PointsUsed,
			"error", err,
		)
		return bid, err
	}
	return bid, nil
}

// FinishRound resolves the current round. Exactly one of any number of
// concurrent finish callers performs the award; the rest get
// ErrAlreadyFinished.
func (s *RoomService) FinishRound(ctx context.Context, code string) (domain.Round, error) {
	round, err := s.rooms.UpdateRound(ctx, code, func(round *domain.Round, now int64) (*domain.Round, error) {
		return finishRound(round, now)
	})
	if err != nil {
		return domain.Round{}, err
	}
	s.unwatch(code)
	if round.Winner != "" {
		s.award(ctx, code, *round)
	}
	return *round, nil
}

var errNotExpired = errors.New("not-expired")

// FinishRoundIfExpired is the idempotent deadline trigger. Safe to call
// redundantly from any client or from the sweeper.
func (s *RoomService) FinishRoundIfExpired(ctx context.Context, code string) (bool, error) {
	round, err := s.rooms.UpdateRound(ctx, code, func(round *domain.Round, now int64) (*domain.Round, error) {
		if !roundExpired(round, now) {
			return nil, errNotExpired
		}
		return finishRound(round, now)
	})
	if err != nil {
		if errors.Is(err, errNotExpired) || errors.Is(err, ErrAlreadyFinished) || errors.Is(err, ErrRoundNotFound) {
			return false, nil
		}
		return false, err
	}
	s.unwatch(code)
	if round.Winner != "" {
		s.award(ctx, code, *round)
	}
	return true, nil
}

func (s *RoomService) ResetRound(ctx context.Context, code string) error {
	_, err := s.rooms.UpdateRound(ctx, code, func(round *domain.Round, now int64) (*domain.Round, error) {
		return resetRound(round)
	})
	return err
}

// award appends the RoundWon record to the winner and archives the result.
// The ledger was already charged at bid time; nothing further is deducted.
func (s *RoomService) award(ctx context.Context, code string, round domain.Round) {
	var winnerName string
	_, err := s.rooms.UpdateParticipant(ctx, code, round.Winner, func(p *domain.Participant, now int64) (*domain.Participant, error) {
		if p == nil {
			return nil, ErrParticipantNotFound
		}
		next := *p
		winnerName = p.Name
		wins := make([]domain.RoundWon, len(p.RoundsWon), len(p.RoundsWon)+1)
		copy(wins, p.RoundsWon)
		next.RoundsWon = append(wins, domain.RoundWon{
			Question:      round.Question,
			PointsAwarded: round.WinnerPoints,
			Timestamp:     round.EndTs,
		})
		return &next, nil
	})
	if err != nil {
		slog.Error("round resolved but award failed", "room", code, "winner", round.Winner, "error", err)
		return
	}

	if s.archive == nil {
		return
	}
	rec := domain.ArchivedRound{
		Id:            uuid.NewString(),
		RoomCode:      code,
		Question:      round.Question,
		WinnerKey:     round.Winner,
		WinnerName:    winnerName,
		PointsAwarded: round.WinnerPoints,
		BidsCount:     len(round.Bids),
		StartedAt:     round.StartTs,
		EndedAt:       round.EndTs,
	}
	if err := s.archive.ArchiveRound(ctx, rec); err != nil {
		slog.Warn("failed to archive resolved round", "room", code, "error", err)
	}
}

// ---- read-only derived views ----

func (s *RoomService) RequiredCost(ctx context.Context, code string, tier int) (int, error) {
	if tier < 1 {
		return 0, fmt.Errorf("%w: tier must be positive", ErrInvalidTier)
	}
	room, err := s.rooms.GetRoom(ctx, code)
	if err != nil {
		return 0, err
	}
	if room.CurrentRound == nil {
		return 0, ErrRoundNotFound
	}
	return RequiredCost(room.CurrentRound.Bids, tier), nil
}

func (s *RoomService) CurrentLeader(ctx context.Context, code string) (Leader, bool, error) {
	room, err := s.rooms.GetRoom(ctx, code)
	if err != nil {
		return Leader{}, false, err
	}
	if room.CurrentRound == nil {
		return Leader{}, false, ErrRoundNotFound
	}
	leader, ok := CurrentLeader(room.CurrentRound.Bids)
	return leader, ok, nil
}

func (s *RoomService) IsEligible(ctx context.Context, code, userKey string, tier int) (BidCheck, error) {
	if tier < 1 {
		return BidCheck{}, fmt.Errorf("%w: tier must be positive", ErrInvalidTier)
	}
	room, err := s.rooms.GetRoom(ctx, code)
	if err != nil {
		return BidCheck{}, err
	}
	participant, ok := room.Participants[userKey]
	if !ok {
		return BidCheck{}, ErrParticipantNotFound
	}
	var bids map[string]domain.Bid
	if room.CurrentRound != nil {
		bids = room.CurrentRound.Bids
	}
	check, err := CanBid(participant, userKey, bids, tier)
	if err != nil && !errors.Is(err, ErrInsufficientPoints) && !errors.Is(err, ErrAlreadyLeading) {
		return BidCheck{}, err
	}
	// Denials are a view result here, not a failure.
	return check, nil
}

func (s *RoomService) RemainingMs(ctx context.Context, code string) (int64, error) {
	room, err := s.rooms.GetRoom(ctx, code)
	if err != nil {
		return 0, err
	}
	return roundRemainingMs(room.CurrentRound, time.Now().UnixMilli()), nil
}

type LeaderboardEntry struct {
	UserKey         string `json:"userKey"`
	Email           string `json:"email"`
	Name            string `json:"name"`
	Online          bool   `json:"isOnline"`
	RoundsWonCount  int    `json:"roundsWonCount"`
	PointsAvailable int    `json:"pointsAvailable"`
	PointsAwarded   int    `json:"pointsAwarded"`
}

// Leaderboard orders participants by rounds won, then by remaining budget.
func (s *RoomService) Leaderboard(ctx context.Context, code string) ([]LeaderboardEntry, error) {
	room, err := s.rooms.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(room.Participants))
	for key, p := range room.Participants {
		var ownBid *domain.Bid
		if room.CurrentRound != nil {
			if bid, ok := room.CurrentRound.Bids[key]; ok {
				ownBid = &bid
			}
		}
		entries = append(entries, LeaderboardEntry{
			UserKey:         key,
			Email:           domain.DesanitizeKey(key),
			Name:            p.Name,
			Online:          p.Online,
			RoundsWonCount:  len(p.RoundsWon),
			PointsAvailable: p.PointsAvailable(ownBid),
			PointsAwarded:   p.PointsUsedFromWins(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].RoundsWonCount != entries[j].RoundsWonCount {
			return entries[i].RoundsWonCount > entries[j].RoundsWonCount
		}
		if entries[i].PointsAvailable != entries[j].PointsAvailable {
			return entries[i].PointsAvailable > entries[j].PointsAvailable
		}
		return entries[i].UserKey < entries[j].UserKey
	})
	return entries, nil
}

// ---- expiry sweeper ----

func (s *RoomService) watch(code string) {
	select {
	case s.watchChan <- code:
	default:
	}
}

func (s *RoomService) unwatch(code string) {
	select {
	case s.unwatchChan <- code:
	default:
	}
}

// SweeperActor drives finishIfExpired for rooms with a live round. It is a
// backstop for the master's client: either may resolve the round first, the
// handled flag makes the race harmless.
func (s *RoomService) SweeperActor(ctx context.Context, started chan struct{}) {
	tick := s.tickers.Create(time.Millisecond * 250)
	watched := map[string]struct{}{}

	close(started)

	for {
		select {
		case <-ctx.Done():
			return
		case code := <-s.watchChan:
			watched[code] = struct{}{}
		case code := <-s.unwatchChan:
			delete(watched, code)
		case <-tick:
			for code := range watched {
				finished, err := s.FinishRoundIfExpired(ctx, code)
				if err != nil {
					if errors.Is(err, ErrRoomNotFound) {
						delete(watched, code)
						continue
					}
					slog.Warn("expiry sweep failed", "room", code, "error", err)
					continue
				}
				if finished {
					delete(watched, code)
				}
			}
		}
	}
}
