package game

import (
	"context"
	"time"

	"github.com/Web-Am/buzzer/domain"
)

// RoomStore is the contract the core requires from the shared realtime
// store: keyed records mutated only through atomic read-modify-write
// transforms, plus a subscription that delivers the full room snapshot on
// every change. The now passed to a transform is the store's server
// timestamp in unix milliseconds; client clocks are never trusted for
// ordering.
//
// A transform returning an error leaves the record untouched and the error
// is returned verbatim. The round and participant records are separate keys:
// the two updates in a bid are NOT one transaction, which is why balance
// reads fall back to the round's own bid record (see CanBid).
type RoomStore interface {
	CreateRoom(ctx context.Context, room domain.Room) error
	GetRoom(ctx context.Context, code string) (domain.Room, error)
	DeleteRoom(ctx context.Context, code string) error
	UpdateRound(ctx context.Context, code string, fn func(round *domain.Round, now int64) (*domain.Round, error)) (*domain.Round, error)
	UpdateParticipant(ctx context.Context, code, key string, fn func(p *domain.Participant, now int64) (*domain.Participant, error)) (domain.Participant, error)
	SubscribeRoom(ctx context.Context, code string) (<-chan domain.Room, func(), error)
}

// SessionStore is the same contract for the single shared session record and
// its player pool.
type SessionStore interface {
	GetSession(ctx context.Context) (domain.Session, error)
	UpdateSession(ctx context.Context, fn func(s domain.Session, now int64) (domain.Session, error)) (domain.Session, error)
	ListPlayers(ctx context.Context) (map[string]domain.SessionPlayer, error)
	UpdatePlayer(ctx context.Context, id string, fn func(p *domain.SessionPlayer, now int64) (*domain.SessionPlayer, error)) (domain.SessionPlayer, error)
	DeletePlayer(ctx context.Context, id string) error
}

// ResultArchiver persists resolved rounds durably. Archiving is best effort;
// a failure is logged and never blocks round resolution.
type ResultArchiver interface {
	ArchiveRound(ctx context.Context, rec domain.ArchivedRound) error
}

type UniqueCodeGenerator interface {
	Generate() string
}

type PeriodicTickerChannelCreator interface {
	Create(d time.Duration) <-chan time.Time
}
