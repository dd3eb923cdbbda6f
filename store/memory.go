// Package store provides the shared-record collaborators the game core is
// built against: atomic read-modify-write over keyed records plus snapshot
// subscriptions. The memory implementation backs tests and single-node
// deployments; the redis implementation backs multi-node ones.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/Web-Am/buzzer/domain"
	"github.com/Web-Am/buzzer/game"
)

const subscriberBuffer = 16

type roomRecord struct {
	room         domain.Room
	participants map[string]domain.Participant
	round        *domain.Round
}

// Memory is an in-process record store. Transforms for all keys are
// serialized under one mutex, which trivially satisfies the atomic
// read-modify-write contract. Timestamps are unix milliseconds, bumped to be
// strictly increasing across writes so bid ordering is total.
type Memory struct {
	locker sync.Mutex
	rooms  map[string]*roomRecord

	session        domain.Session
	sessionPlayers map[string]domain.SessionPlayer

	roomSubs map[string]map[chan domain.Room]struct{}

	clock  func() time.Time
	lastTs int64
}

func NewMemory() *Memory {
	return &Memory{
		rooms:          map[string]*roomRecord{},
		sessionPlayers: map[string]domain.SessionPlayer{},
		roomSubs:       map[string]map[chan domain.Room]struct{}{},
		clock:          time.Now,
	}
}

// NewMemoryWithClock lets tests pin the server timestamp source.
func NewMemoryWithClock(clock func() time.Time) *Memory {
	m := NewMemory()
	m.clock = clock
	return m
}

// now must be called with the lock held.
func (m *Memory) now() int64 {
	ts := m.clock().UnixMilli()
	if ts <= m.lastTs {
		ts = m.lastTs + 1
	}
	m.lastTs = ts
	return ts
}

func (m *Memory) CreateRoom(ctx context.Context, room domain.Room) error {
	m.locker.Lock()
	defer m.locker.Unlock()

	if _, exists := m.rooms[room.Code]; exists {
		return game.ErrRoomExists
	}
	rec := &roomRecord{
		room:         room,
		participants: map[string]domain.Participant{},
	}
	for key, p := range room.Participants {
		rec.participants[key] = copyParticipant(p)
	}
	rec.room.Participants = nil
	if room.CurrentRound != nil {
		round := copyRound(*room.CurrentRound)
		rec.round = &round
	}
	m.rooms[room.Code] = rec
	return nil
}

func (m *Memory) GetRoom(ctx context.Context, code string) (domain.Room, error) {
	m.locker.Lock()
	defer m.locker.Unlock()

	rec, ok := m.rooms[code]
	if !ok {
		return domain.Room{}, game.ErrRoomNotFound
	}
	return assembleRoom(rec), nil
}

func (m *Memory) DeleteRoom(ctx context.Context, code string) error {
	m.locker.Lock()
	defer m.locker.Unlock()

	if _, ok := m.rooms[code]; !ok {
		return game.ErrRoomNotFound
	}
	delete(m.rooms, code)
	for ch := range m.roomSubs[code] {
		close(ch)
	}
	delete(m.roomSubs, code)
	return nil
}

func (m *Memory) UpdateRound(ctx context.Context, code string, fn func(round *domain.Round, now int64) (*domain.Round, error)) (*domain.Round, error) {
	m.locker.Lock()
	defer m.locker.Unlock()

	rec, ok := m.rooms[code]
	if !ok {
		return nil, game.ErrRoomNotFound
	}

	var cur *domain.Round
	if rec.round != nil {
		round := copyRound(*rec.round)
		cur = &round
	}
	now := m.now()
	next, err := fn(cur, now)
	if err != nil {
		return nil, err
	}
	if next != nil {
		round := copyRound(*next)
		rec.round = &round
	} else {
		rec.round = nil
	}
	rec.room.UpdatedAt = now
	m.publishLocked(code, rec)

	if next == nil {
		return nil, nil
	}
	out := copyRound(*next)
	return &out, nil
}

func (m *Memory) UpdateParticipant(ctx context.Context, code, key string, fn func(p *domain.Participant, now int64) (*domain.Participant, error)) (domain.Participant, error) {
	m.locker.Lock()
	defer m.locker.Unlock()

	rec, ok := m.rooms[code]
	if !ok {
		return domain.Participant{}, game.ErrRoomNotFound
	}

	var cur *domain.Participant
	if p, exists := rec.participants[key]; exists {
		cp := copyParticipant(p)
		cur = &cp
	}
	now := m.now()
	next, err := fn(cur, now)
	if err != nil {
		return domain.Participant{}, err
	}
	if next != nil {
		rec.participants[key] = copyParticipant(*next)
	} else {
		delete(rec.participants, key)
	}
	rec.room.UpdatedAt = now
	m.publishLocked(code, rec)

	if next == nil {
		return domain.Participant{}, nil
	}
	return copyParticipant(*next), nil
}

// SubscribeRoom delivers a snapshot immediately and then after every commit.
// Slow subscribers miss intermediate snapshots rather than block writers;
// the latest state always arrives eventually because snapshots are full,
// not incremental.
func (m *Memory) SubscribeRoom(ctx context.Context, code string) (<-chan domain.Room, func(), error) {
	m.locker.Lock()
	defer m.locker.Unlock()

	rec, ok := m.rooms[code]
	if !ok {
		return nil, nil, game.ErrRoomNotFound
	}

	ch := make(chan domain.Room, subscriberBuffer)
	subs, ok := m.roomSubs[code]
	if !ok {
		subs = map[chan domain.Room]struct{}{}
		m.roomSubs[code] = subs
	}
	subs[ch] = struct{}{}
	ch <- assembleRoom(rec)

	cancel := func() {
		m.locker.Lock()
		defer m.locker.Unlock()
		if _, still := m.roomSubs[code][ch]; still {
			delete(m.roomSubs[code], ch)
			close(ch)
		}
	}
	return ch, cancel, nil
}

// publishLocked must be called with the lock held.
func (m *Memory) publishLocked(code string, rec *roomRecord) {
	snapshot := assembleRoom(rec)
	for ch := range m.roomSubs[code] {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// ---- session records ----

func (m *Memory) GetSession(ctx context.Context) (domain.Session, error) {
	m.locker.Lock()
	defer m.locker.Unlock()
	return m.session, nil
}

func (m *Memory) UpdateSession(ctx context.Context, fn func(s domain.Session, now int64) (domain.Session, error)) (domain.Session, error) {
	m.locker.Lock()
	defer m.locker.Unlock()

	next, err := fn(m.session, m.now())
	if err != nil {
		return domain.Session{}, err
	}
	m.session = next
	return next, nil
}

func (m *Memory) ListPlayers(ctx context.Context) (map[string]domain.SessionPlayer, error) {
	m.locker.Lock()
	defer m.locker.Unlock()

	out := make(map[string]domain.SessionPlayer, len(m.sessionPlayers))
	for id, p := range m.sessionPlayers {
		out[id] = copySessionPlayer(p)
	}
	return out, nil
}

func (m *Memory) UpdatePlayer(ctx context.Context, id string, fn func(p *domain.SessionPlayer, now int64) (*domain.SessionPlayer, error)) (domain.SessionPlayer, error) {
	m.locker.Lock()
	defer m.locker.Unlock()

	var cur *domain.SessionPlayer
	if p, exists := m.sessionPlayers[id]; exists {
		cp := copySessionPlayer(p)
		cur = &cp
	}
	next, err := fn(cur, m.now())
	if err != nil {
		return domain.SessionPlayer{}, err
	}
	if next != nil {
		m.sessionPlayers[id] = copySessionPlayer(*next)
	} else {
		delete(m.sessionPlayers, id)
	}
	if next == nil {
		return domain.SessionPlayer{}, nil
	}
	return copySessionPlayer(*next), nil
}

func (m *Memory) DeletePlayer(ctx context.Context, id string) error {
	m.locker.Lock()
	defer m.locker.Unlock()
	delete(m.sessionPlayers, id)
	return nil
}

// ---- copy helpers: records never escape by reference ----

func assembleRoom(rec *roomRecord) domain.Room {
	room := rec.room
	room.Participants = make(map[string]domain.Participant, len(rec.participants))
	for key, p := range rec.participants {
		room.Participants[key] = copyParticipant(p)
	}
	if rec.round != nil {
		round := copyRound(*rec.round)
		room.CurrentRound = &round
	} else {
		room.CurrentRound = nil
	}
	return room
}

func copyParticipant(p domain.Participant) domain.Participant {
	if p.RoundsWon != nil {
		wins := make([]domain.RoundWon, len(p.RoundsWon))
		copy(wins, p.RoundsWon)
		p.RoundsWon = wins
	}
	return p
}

func copyRound(r domain.Round) domain.Round {
	if r.Bids != nil {
		bids := make(map[string]domain.Bid, len(r.Bids))
		for k, v := range r.Bids {
			bids[k] = v
		}
		r.Bids = bids
	}
	return r
}

func copySessionPlayer(p domain.SessionPlayer) domain.SessionPlayer {
	if p.Victories != nil {
		victories := make([]domain.Victory, len(p.Victories))
		copy(victories, p.Victories)
		p.Victories = victories
	}
	return p
}
