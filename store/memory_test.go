package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Web-Am/buzzer/domain"
	"github.com/Web-Am/buzzer/game"
	"github.com/Web-Am/buzzer/store"
)

func testRoom(code string) domain.Room {
	return domain.Room{
		Code:     code,
		Settings: domain.RoomSettings{TotalPoints: 300, CountdownMs: 10000},
	}
}

func TestMemoryRoomCRUD(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	require.NoError(t, mem.CreateRoom(ctx, testRoom("ROOM01")))

	err := mem.CreateRoom(ctx, testRoom("ROOM01"))
	assert.ErrorIs(t, err, game.ErrRoomExists)

	_, err = mem.GetRoom(ctx, "NOPE")
	assert.ErrorIs(t, err, game.ErrRoomNotFound)

	room, err := mem.GetRoom(ctx, "ROOM01")
	require.NoError(t, err)
	assert.Equal(t, "ROOM01", room.Code)
	assert.Empty(t, room.Participants)

	require.NoError(t, mem.DeleteRoom(ctx, "ROOM01"))
	assert.ErrorIs(t, mem.DeleteRoom(ctx, "ROOM01"), game.ErrRoomNotFound)
}

func TestMemoryTimestampsAreStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	// A frozen clock forces the monotonic bump on every write.
	pinned := time.UnixMilli(1_700_000_000_000)
	mem := store.NewMemoryWithClock(func() time.Time { return pinned })

	require.NoError(t, mem.CreateRoom(ctx, testRoom("ROOM01")))

	var seen []int64
	for i := 0; i < 5; i++ {
		_, err := mem.UpdateParticipant(ctx, "ROOM01", "p", func(p *domain.Participant, now int64) (*domain.Participant, error) {
			seen = append(seen, now)
			if p == nil {
				return &domain.Participant{Name: "p", PointsTotal: 300}, nil
			}
			return p, nil
		})
		require.NoError(t, err)
	}

	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1], "write %d must get a later timestamp", i)
	}
}

func TestMemoryTransformsAreAtomic(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.CreateRoom(ctx, testRoom("ROOM01")))

	_, err := mem.UpdateRound(ctx, "ROOM01", func(round *domain.Round, now int64) (*domain.Round, error) {
		return &domain.Round{
			Status:  domain.RoundInProgress,
			StartTs: now,
			TimerMs: 10000,
			Bids:    map[string]domain.Bid{},
		}, nil
	})
	require.NoError(t, err)

	// Many writers each read-modify-write a counter-like bid; with atomic
	// transforms no increment can be lost.
	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mem.UpdateRound(ctx, "ROOM01", func(round *domain.Round, now int64) (*domain.Round, error) {
				next := *round
				next.Bids = map[string]domain.Bid{}
				for k, v := range round.Bids {
					next.Bids[k] = v
				}
				bid := next.Bids["x"]
				bid.UserKey = "x"
				bid.PointsUsed++
				next.Bids["x"] = bid
				return &next, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	room, err := mem.GetRoom(ctx, "ROOM01")
	require.NoError(t, err)
	assert.Equal(t, writers, room.CurrentRound.Bids["x"].PointsUsed)
}

func TestMemorySnapshotsAreIsolated(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.CreateRoom(ctx, testRoom("ROOM01")))

	_, err := mem.UpdateParticipant(ctx, "ROOM01", "anna", func(p *domain.Participant, now int64) (*domain.Participant, error) {
		return &domain.Participant{Name: "Anna", PointsTotal: 300}, nil
	})
	require.NoError(t, err)

	room, err := mem.GetRoom(ctx, "ROOM01")
	require.NoError(t, err)

	// Mutating the returned snapshot must not leak into the store.
	p := room.Participants["anna"]
	p.PointsTotal = 1
	room.Participants["anna"] = p

	reread, err := mem.GetRoom(ctx, "ROOM01")
	require.NoError(t, err)
	assert.Equal(t, 300, reread.Participants["anna"].PointsTotal)
}

func TestMemorySubscribeRoom(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.CreateRoom(ctx, testRoom("ROOM01")))

	snapshots, cancel, err := mem.SubscribeRoom(ctx, "ROOM01")
	require.NoError(t, err)
	defer cancel()

	first := <-snapshots
	assert.Equal(t, "ROOM01", first.Code, "subscription starts with the current snapshot")

	_, err = mem.UpdateParticipant(ctx, "ROOM01", "anna", func(p *domain.Participant, now int64) (*domain.Participant, error) {
		return &domain.Participant{Name: "Anna", PointsTotal: 300}, nil
	})
	require.NoError(t, err)

	select {
	case next := <-snapshots:
		assert.Contains(t, next.Participants, "anna")
		current, err := mem.GetRoom(ctx, "ROOM01")
		require.NoError(t, err)
		if diff := cmp.Diff(current, next); diff != "" {
			t.Fatalf("published snapshot differs from the stored room (-want +got):\n%s", diff)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot after a commit")
	}

	_, _, err = mem.SubscribeRoom(ctx, "NOPE")
	assert.ErrorIs(t, err, game.ErrRoomNotFound)
}

func TestMemoryDeleteRoomClosesSubscriptions(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.CreateRoom(ctx, testRoom("ROOM01")))

	snapshots, cancel, err := mem.SubscribeRoom(ctx, "ROOM01")
	require.NoError(t, err)
	defer cancel()
	<-snapshots

	require.NoError(t, mem.DeleteRoom(ctx, "ROOM01"))

	select {
	case _, open := <-snapshots:
		assert.False(t, open, "channel must close when the room goes away")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after room deletion")
	}
}

func TestMemorySessionRecords(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	sess, err := mem.GetSession(ctx)
	require.NoError(t, err)
	assert.False(t, sess.Active, "zero value session before any write")

	_, err = mem.UpdateSession(ctx, func(s domain.Session, now int64) (domain.Session, error) {
		s.Active = true
		s.ExpiresAt = now + 30000
		return s, nil
	})
	require.NoError(t, err)

	sess, err = mem.GetSession(ctx)
	require.NoError(t, err)
	assert.True(t, sess.Active)

	_, err = mem.UpdatePlayer(ctx, "anna", func(p *domain.SessionPlayer, now int64) (*domain.SessionPlayer, error) {
		require.Nil(t, p)
		return &domain.SessionPlayer{Name: "anna"}, nil
	})
	require.NoError(t, err)

	players, err := mem.ListPlayers(ctx)
	require.NoError(t, err)
	assert.Contains(t, players, "anna")

	// Returning nil deletes the record.
	_, err = mem.UpdatePlayer(ctx, "anna", func(p *domain.SessionPlayer, now int64) (*domain.SessionPlayer, error) {
		return nil, nil
	})
	require.NoError(t, err)

	players, err = mem.ListPlayers(ctx)
	require.NoError(t, err)
	assert.NotContains(t, players, "anna")
}
