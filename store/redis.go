package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Web-Am/buzzer/domain"
	"github.com/Web-Am/buzzer/game"
)

const transformAttempts = 8

// Redis is the multi-node record store. Atomic read-modify-write is an
// optimistic WATCH transaction retried a bounded number of times; exhausting
// the retries surfaces as game.ErrRaceLost so the caller can recompute and
// retry with fresh state. Every committed room write publishes the full
// assembled snapshot on the room's channel.
type Redis struct {
	client    *redis.Client
	keyPrefix string

	locker sync.Mutex
	lastTs int64
}

func NewRedis(client *redis.Client, keyPrefix string) *Redis {
	if keyPrefix == "" {
		keyPrefix = "buzzer:"
	}
	return &Redis{client: client, keyPrefix: keyPrefix}
}

func (r *Redis) roomKey(code string) string {
	return fmt.Sprintf("%sroom:%s", r.keyPrefix, code)
}

func (r *Redis) roomMembersKey(code string) string {
	return fmt.Sprintf("%sroom:%s:members", r.keyPrefix, code)
}

func (r *Redis) participantKey(code, key string) string {
	return fmt.Sprintf("%sroom:%s:participant:%s", r.keyPrefix, code, key)
}

func (r *Redis) roundKey(code string) string {
	return fmt.Sprintf("%sroom:%s:round", r.keyPrefix, code)
}

func (r *Redis) roomChannel(code string) string {
	return fmt.Sprintf("%sroom:%s:events", r.keyPrefix, code)
}

func (r *Redis) sessionKey() string {
	return r.keyPrefix + "session"
}

func (r *Redis) sessionMembersKey() string {
	return r.keyPrefix + "session:members"
}

func (r *Redis) sessionPlayerKey(id string) string {
	return fmt.Sprintf("%ssession:player:%s", r.keyPrefix, id)
}

// serverNow takes the timestamp from the redis server, not the caller, so
// every service instance orders bids against the same clock. Bumped to stay
// strictly increasing per store instance.
func (r *Redis) serverNow(ctx context.Context) int64 {
	ts := time.Now().UnixMilli()
	if serverTime, err := r.client.Time(ctx).Result(); err == nil {
		ts = serverTime.UnixMilli()
	}
	r.locker.Lock()
	defer r.locker.Unlock()
	if ts <= r.lastTs {
		ts = r.lastTs + 1
	}
	r.lastTs = ts
	return ts
}

// updateRecord runs one optimistic transform over a single key. fn receives
// nil when the key is absent; returning nil deletes the key.
func (r *Redis) updateRecord(ctx context.Context, key string, fn func(cur []byte, now int64) ([]byte, error)) ([]byte, error) {
	var out []byte

	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if errors.Is(err, redis.Nil) {
			cur = nil
		}

		out, err = fn(cur, r.serverNow(ctx))
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if out == nil {
				pipe.Del(ctx, key)
			} else {
				pipe.Set(ctx, key, out, 0)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < transformAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts on %s", game.ErrRaceLost, transformAttempts, key)
}

func (r *Redis) CreateRoom(ctx context.Context, room domain.Room) error {
	key := r.roomKey(room.Code)

	meta := room
	participants := room.Participants
	meta.Participants = nil
	meta.CurrentRound = nil

	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	ok, err := r.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis: failed to create room %s: %w", room.Code, err)
	}
	if !ok {
		return game.ErrRoomExists
	}

	for pKey, p := range participants {
		if err := r.putParticipant(ctx, room.Code, pKey, p); err != nil {
			return err
		}
	}
	if room.CurrentRound != nil {
		roundData, err := json.Marshal(room.CurrentRound)
		if err != nil {
			return err
		}
		if err := r.client.Set(ctx, r.roundKey(room.Code), roundData, 0).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Redis) putParticipant(ctx context.Context, code, key string, p domain.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.participantKey(code, key), data, 0)
	pipe.SAdd(ctx, r.roomMembersKey(code), key)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) GetRoom(ctx context.Context, code string) (domain.Room, error) {
	data, err := r.client.Get(ctx, r.roomKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Room{}, game.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("redis: failed to get room %s: %w", code, err)
	}

	room, err := domain.ParseRoom(data)
	if err != nil {
		return domain.Room{}, err
	}
	room.Participants = map[string]domain.Participant{}

	members, err := r.client.SMembers(ctx, r.roomMembersKey(code)).Result()
	if err != nil {
		return domain.Room{}, fmt.Errorf("redis: failed to list members of %s: %w", code, err)
	}
	for _, key := range members {
		pData, err := r.client.Get(ctx, r.participantKey(code, key)).Bytes()
		if errors.Is(err, redis.Nil) {
			// Member listed but record deleted mid-read; skip.
			continue
		}
		if err != nil {
			return domain.Room{}, fmt.Errorf("redis: failed to get participant %s of %s: %w", key, code, err)
		}
		p, err := domain.ParseParticipant(pData)
		if err != nil {
			return domain.Room{}, err
		}
		room.Participants[key] = p
	}

	roundData, err := r.client.Get(ctx, r.roundKey(code)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.Room{}, fmt.Errorf("redis: failed to get round of %s: %w", code, err)
	}
	if err == nil {
		round, err := domain.ParseRound(roundData)
		if err != nil {
			return domain.Room{}, err
		}
		room.CurrentRound = &round
	}
	return room, nil
}

func (r *Redis) DeleteRoom(ctx context.Context, code string) error {
	members, err := r.client.SMembers(ctx, r.roomMembersKey(code)).Result()
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	for _, key := range members {
		pipe.Del(ctx, r.participantKey(code, key))
	}
	pipe.Del(ctx, r.roomMembersKey(code))
	pipe.Del(ctx, r.roundKey(code))
	pipe.Del(ctx, r.roomKey(code))
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) UpdateRound(ctx context.Context, code string, fn func(round *domain.Round, now int64) (*domain.Round, error)) (*domain.Round, error) {
	if err := r.ensureRoom(ctx, code); err != nil {
		return nil, err
	}

	var result *domain.Round
	_, err := r.updateRecord(ctx, r.roundKey(code), func(cur []byte, now int64) ([]byte, error) {
		var round *domain.Round
		if cur != nil {
			parsed, err := domain.ParseRound(cur)
			if err != nil {
				return nil, err
			}
			round = &parsed
		}
		next, err := fn(round, now)
		if err != nil {
			return nil, err
		}
		result = next
		if next == nil {
			return nil, nil
		}
		return json.Marshal(next)
	})
	if err != nil {
		return nil, err
	}
	r.publishRoom(ctx, code)
	return result, nil
}

func (r *Redis) UpdateParticipant(ctx context.Context, code, key string, fn func(p *domain.Participant, now int64) (*domain.Participant, error)) (domain.Participant, error) {
	if err := r.ensureRoom(ctx, code); err != nil {
		return domain.Participant{}, err
	}

	var result domain.Participant
	out, err := r.updateRecord(ctx, r.participantKey(code, key), func(cur []byte, now int64) ([]byte, error) {
		var p *domain.Participant
		if cur != nil {
			parsed, err := domain.ParseParticipant(cur)
			if err != nil {
				return nil, err
			}
			p = &parsed
		}
		next, err := fn(p, now)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		result = *next
		return json.Marshal(next)
	})
	if err != nil {
		return domain.Participant{}, err
	}
	if out == nil {
		r.client.SRem(ctx, r.roomMembersKey(code), key)
	} else {
		r.client.SAdd(ctx, r.roomMembersKey(code), key)
	}
	r.publishRoom(ctx, code)
	return result, nil
}

func (r *Redis) ensureRoom(ctx context.Context, code string) error {
	exists, err := r.client.Exists(ctx, r.roomKey(code)).Result()
	if err != nil {
		return fmt.Errorf("redis: failed to check room %s: %w", code, err)
	}
	if exists == 0 {
		return game.ErrRoomNotFound
	}
	return nil
}

func (r *Redis) publishRoom(ctx context.Context, code string) {
	room, err := r.GetRoom(ctx, code)
	if err != nil {
		return
	}
	payload, err := json.Marshal(room)
	if err != nil {
		return
	}
	r.client.Publish(ctx, r.roomChannel(code), payload)
}

func (r *Redis) SubscribeRoom(ctx context.Context, code string) (<-chan domain.Room, func(), error) {
	initial, err := r.GetRoom(ctx, code)
	if err != nil {
		return nil, nil, err
	}

	pubsub := r.client.Subscribe(ctx, r.roomChannel(code))
	out := make(chan domain.Room, subscriberBuffer)
	out <- initial

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			room, err := domain.ParseRoom([]byte(msg.Payload))
			if err != nil {
				continue
			}
			select {
			case out <- room:
			default:
			}
		}
	}()

	cancel := func() { pubsub.Close() }
	return out, cancel, nil
}

// ---- session records ----

func (r *Redis) GetSession(ctx context.Context) (domain.Session, error) {
	data, err := r.client.Get(ctx, r.sessionKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, nil
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("redis: failed to get session: %w", err)
	}
	return domain.ParseSession(data)
}

func (r *Redis) UpdateSession(ctx context.Context, fn func(s domain.Session, now int64) (domain.Session, error)) (domain.Session, error) {
	var result domain.Session
	_, err := r.updateRecord(ctx, r.sessionKey(), func(cur []byte, now int64) ([]byte, error) {
		var s domain.Session
		if cur != nil {
			parsed, err := domain.ParseSession(cur)
			if err != nil {
				return nil, err
			}
			s = parsed
		}
		next, err := fn(s, now)
		if err != nil {
			return nil, err
		}
		result = next
		return json.Marshal(next)
	})
	if err != nil {
		return domain.Session{}, err
	}
	return result, nil
}

func (r *Redis) ListPlayers(ctx context.Context) (map[string]domain.SessionPlayer, error) {
	ids, err := r.client.SMembers(ctx, r.sessionMembersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to list session players: %w", err)
	}
	out := make(map[string]domain.SessionPlayer, len(ids))
	for _, id := range ids {
		data, err := r.client.Get(ctx, r.sessionPlayerKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis: failed to get session player %s: %w", id, err)
		}
		p, err := domain.ParseSessionPlayer(data)
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

func (r *Redis) UpdatePlayer(ctx context.Context, id string, fn func(p *domain.SessionPlayer, now int64) (*domain.SessionPlayer, error)) (domain.SessionPlayer, error) {
	var result domain.SessionPlayer
	out, err := r.updateRecord(ctx, r.sessionPlayerKey(id), func(cur []byte, now int64) ([]byte, error) {
		var p *domain.SessionPlayer
		if cur != nil {
			parsed, err := domain.ParseSessionPlayer(cur)
			if err != nil {
				return nil, err
			}
			p = &parsed
		}
		next, err := fn(p, now)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		result = *next
		return json.Marshal(next)
	})
	if err != nil {
		return domain.SessionPlayer{}, err
	}
	if out == nil {
		r.client.SRem(ctx, r.sessionMembersKey(), id)
	} else {
		r.client.SAdd(ctx, r.sessionMembersKey(), id)
	}
	return result, nil
}

func (r *Redis) DeletePlayer(ctx context.Context, id string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.sessionPlayerKey(id))
	pipe.SRem(ctx, r.sessionMembersKey(), id)
	_, err := pipe.Exec(ctx)
	return err
}
