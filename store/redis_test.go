package store_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Web-Am/buzzer/domain"
	"github.com/Web-Am/buzzer/game"
	"github.com/Web-Am/buzzer/store"
)

var (
	redisOnce   sync.Once
	redisClient *redis.Client
	redisErr    error
)

// startRedis brings up one containerized redis for the whole package, only
// when a test actually needs it; the memory store tests stay docker-free.
// The testcontainers reaper tears the container down after the run.
func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	redisOnce.Do(func() {
		ctx := context.Background()
		redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(5 * time.Second),
			},
			Started: true,
		})
		if err != nil {
			redisErr = err
			return
		}
		endpoint, err := redisContainer.Endpoint(ctx, "")
		if err != nil {
			redisErr = err
			return
		}
		redisClient = redis.NewClient(&redis.Options{Addr: endpoint})
	})
	if redisErr != nil {
		t.Fatalf("redis container: %v", redisErr)
	}
	return redisClient
}

// Each test gets its own key prefix so state never bleeds between them.
func newRedisStore(t *testing.T, prefix string) *store.Redis {
	return store.NewRedis(startRedis(t), prefix)
}

func TestRedisRoomCRUD(t *testing.T) {
	ctx := context.Background()
	rdb := newRedisStore(t, "crud:")

	require.NoError(t, rdb.CreateRoom(ctx, testRoom("ROOM01")))
	assert.ErrorIs(t, rdb.CreateRoom(ctx, testRoom("ROOM01")), game.ErrRoomExists)

	_, err := rdb.GetRoom(ctx, "NOPE")
	assert.ErrorIs(t, err, game.ErrRoomNotFound)

	_, err = rdb.UpdateParticipant(ctx, "ROOM01", "anna", func(p *domain.Participant, now int64) (*domain.Participant, error) {
		require.Nil(t, p)
		return &domain.Participant{Name: "Anna", PointsTotal: 300}, nil
	})
	require.NoError(t, err)

	_, err = rdb.UpdateRound(ctx, "ROOM01", func(round *domain.Round, now int64) (*domain.Round, error) {
		return &domain.Round{
			Question:  "Capitale della Francia?",
			MaxPoints: 50,
			Status:    domain.RoundInProgress,
			StartTs:   now,
			TimerMs:   10000,
		}, nil
	})
	require.NoError(t, err)

	room, err := rdb.GetRoom(ctx, "ROOM01")
	require.NoError(t, err)
	assert.Equal(t, "Anna", room.Participants["anna"].Name)
	require.NotNil(t, room.CurrentRound)
	assert.Equal(t, domain.RoundInProgress, room.CurrentRound.Status)

	// Updating a participant of a vanished room must not resurrect keys.
	_, err = rdb.UpdateParticipant(ctx, "NOPE", "anna", func(p *domain.Participant, now int64) (*domain.Participant, error) {
		return &domain.Participant{Name: "Anna", PointsTotal: 300}, nil
	})
	assert.ErrorIs(t, err, game.ErrRoomNotFound)

	// Returning nil removes the participant from the membership set too.
	_, err = rdb.UpdateParticipant(ctx, "ROOM01", "anna", func(p *domain.Participant, now int64) (*domain.Participant, error) {
		return nil, nil
	})
	require.NoError(t, err)

	room, err = rdb.GetRoom(ctx, "ROOM01")
	require.NoError(t, err)
	assert.NotContains(t, room.Participants, "anna")

	require.NoError(t, rdb.DeleteRoom(ctx, "ROOM01"))
	_, err = rdb.GetRoom(ctx, "ROOM01")
	assert.ErrorIs(t, err, game.ErrRoomNotFound)
}

func TestRedisTransformContention(t *testing.T) {
	ctx := context.Background()
	rdb := newRedisStore(t, "contention:")
	require.NoError(t, rdb.CreateRoom(ctx, testRoom("ROOM01")))

	_, err := rdb.UpdateRound(ctx, "ROOM01", func(round *domain.Round, now int64) (*domain.Round, error) {
		return &domain.Round{
			Status:  domain.RoundInProgress,
			StartTs: now,
			TimerMs: 10000,
		}, nil
	})
	require.NoError(t, err)

	// Writers race on the same record; a writer losing all its optimistic
	// attempts gets ErrRaceLost and tries again with fresh state. No
	// committed increment may ever be lost.
	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := rdb.UpdateRound(ctx, "ROOM01", func(round *domain.Round, now int64) (*domain.Round, error) {
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
				if err == nil {
					return
				}
				if !assert.ErrorIs(t, err, game.ErrRaceLost) {
					return
				}
			}
		}()
	}
	wg.Wait()

	room, err := rdb.GetRoom(ctx, "ROOM01")
	require.NoError(t, err)
	assert.Equal(t, writers, room.CurrentRound.Bids["x"].PointsUsed)
}

func TestRedisRaceLostAfterRetries(t *testing.T) {
	ctx := context.Background()
	client := startRedis(t)
	rdb := newRedisStore(t, "racelost:")

	interference, err := json.Marshal(domain.Session{Question: "interference"})
	require.NoError(t, err)

	// The transform touches the watched key through a side write on every
	// attempt, so the WATCH can never hold and the retries must run out.
	attempts := 0
	_, err = rdb.UpdateSession(ctx, func(s domain.Session, now int64) (domain.Session, error) {
		attempts++
		require.NoError(t, client.Set(ctx, "racelost:session", interference, 0).Err())
		s.Question = "mine"
		return s, nil
	})
	assert.ErrorIs(t, err, game.ErrRaceLost)
	assert.Equal(t, 8, attempts, "every optimistic attempt runs the transform once")

	// The record keeps the interfering write, not the abandoned transform.
	sess, err := rdb.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "interference", sess.Question)
}

func TestRedisSubscribeRoom(t *testing.T) {
	ctx := context.Background()
	rdb := newRedisStore(t, "subs:")
	require.NoError(t, rdb.CreateRoom(ctx, testRoom("ROOM01")))

	snapshots, cancel, err := rdb.SubscribeRoom(ctx, "ROOM01")
	require.NoError(t, err)

	first := <-snapshots
	assert.Equal(t, "ROOM01", first.Code, "subscription starts with the current snapshot")

	_, err = rdb.UpdateParticipant(ctx, "ROOM01", "anna", func(p *domain.Participant, now int64) (*domain.Participant, error) {
		return &domain.Participant{Name: "Anna", PointsTotal: 300}, nil
	})
	require.NoError(t, err)

	select {
	case next := <-snapshots:
		assert.Contains(t, next.Participants, "anna")
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot after a commit")
	}

	cancel()
	select {
	case _, open := <-snapshots:
		assert.False(t, open, "cancel must close the channel")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}

	_, _, err = rdb.SubscribeRoom(ctx, "NOPE")
	assert.ErrorIs(t, err, game.ErrRoomNotFound)
}

func TestRedisSessionRecords(t *testing.T) {
	ctx := context.Background()
	rdb := newRedisStore(t, "session:")

	sess, err := rdb.GetSession(ctx)
	require.NoError(t, err)
	assert.False(t, sess.Active, "zero value session before any write")

	var stamps []int64
	for i := 0; i < 3; i++ {
		_, err = rdb.UpdateSession(ctx, func(s domain.Session, now int64) (domain.Session, error) {
			stamps = append(stamps, now)
			s.Active = true
			s.ExpiresAt = now + 30000
			return s, nil
		})
		require.NoError(t, err)
	}
	for i := 1; i < len(stamps); i++ {
		assert.Greater(t, stamps[i], stamps[i-1], "server timestamps are strictly increasing")
	}

	sess, err = rdb.GetSession(ctx)
	require.NoError(t, err)
	assert.True(t, sess.Active)

	_, err = rdb.UpdatePlayer(ctx, "anna", func(p *domain.SessionPlayer, now int64) (*domain.SessionPlayer, error) {
		require.Nil(t, p)
		return &domain.SessionPlayer{Name: "anna"}, nil
	})
	require.NoError(t, err)

	players, err := rdb.ListPlayers(ctx)
	require.NoError(t, err)
	assert.Contains(t, players, "anna")

	require.NoError(t, rdb.DeletePlayer(ctx, "anna"))
	players, err = rdb.ListPlayers(ctx)
	require.NoError(t, err)
	assert.NotContains(t, players, "anna")
}
