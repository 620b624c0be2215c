package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"musiguess/internal/domain"
)

const defaultMaxRetries = 10

// DocumentStore keeps each room as a JSON document and publishes the full document on every
// write so subscribers on any instance converge on the latest snapshot.
//
//	GET/SET   room:{roomID}          room document, expires after ttl of inactivity
//	PUBLISH   room:{roomID}:updates  full document after each write
type DocumentStore struct {
	client     *redis.Client
	ttl        time.Duration
	maxRetries int
}

func NewDocumentStore(client *redis.Client, ttl time.Duration) *DocumentStore {
	return &DocumentStore{
		client:     client,
		ttl:        ttl,
		maxRetries: defaultMaxRetries,
	}
}

func (s *DocumentStore) CreateIfAbsent(ctx context.Context, room domain.Room) error {
	body, err := domain.EncodeRoom(room)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal room: %w", err)
	}
	created, err := s.client.SetNX(ctx, s.key(room.ID), raw, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create room %s: %w", room.ID, err)
	}
	if !created {
		return domain.ErrRoomExists
	}
	return nil
}

func (s *DocumentStore) Get(ctx context.Context, roomID string) (domain.Room, error) {
	raw, err := s.client.Get(ctx, s.key(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("get room %s: %w", roomID, err)
	}
	return decode(roomID, raw)
}

func (s *DocumentStore) Patch(ctx context.Context, roomID string, patch domain.Patch) error {
	return s.Update(ctx, roomID, func(domain.Room) (domain.Patch, error) {
		return patch, nil
	})
}

// Update runs fn inside an optimistic WATCH/MULTI transaction, retrying when another writer
// changed the room in between.
func (s *DocumentStore) Update(ctx context.Context, roomID string, fn func(domain.Room) (domain.Patch, error)) error {
	key := s.key(roomID)
	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrRoomNotFound
		}
		if err != nil {
			return err
		}
		body := make(map[string]any)
		if err := json.Unmarshal(raw, &body); err != nil {
			return fmt.Errorf("unmarshal room %s: %w", roomID, err)
		}
		current, err := domain.DecodeRoom(roomID, body)
		if err != nil {
			return err
		}
		patch, err := fn(current)
		if err != nil {
			return err
		}
		if len(patch) == 0 {
			return nil
		}

		next, err := domain.ApplyPatch(body, patch)
		if err != nil {
			return err
		}
		if _, err := domain.DecodeRoom(roomID, next); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidPatch, err)
		}
		updated, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal room %s: %w", roomID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, s.ttl)
			pipe.Publish(ctx, s.channel(roomID), updated)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update room %s: %w", roomID, redis.TxFailedErr)
}

// Subscribe streams the latest room snapshot, starting with the current one. Snapshots
// published while the consumer is busy replace undelivered ones.
func (s *DocumentStore) Subscribe(ctx context.Context, roomID string) (<-chan domain.Room, func(), error) {
	pubsub := s.client.Subscribe(ctx, s.channel(roomID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe room %s: %w", roomID, err)
	}
	initial, err := s.Get(ctx, roomID)
	if err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	out := make(chan domain.Room, 1)
	out <- initial
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() { close(done) })
	}

	go func() {
		defer close(out)
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				room, err := decode(roomID, []byte(msg.Payload))
				if err != nil {
					log.Warn().Err(err).Str("room_id", roomID).Msg("dropping undecodable room update")
					continue
				}
				select {
				case out <- room:
				default:
					select {
					case <-out:
					default:
					}
					out <- room
				}
			}
		}
	}()
	return out, cancel, nil
}

func (s *DocumentStore) key(roomID string) string {
	return "room:" + roomID
}

func (s *DocumentStore) channel(roomID string) string {
	return "room:" + roomID + ":updates"
}

func decode(roomID string, raw []byte) (domain.Room, error) {
	body := make(map[string]any)
	if err := json.Unmarshal(raw, &body); err != nil {
		return domain.Room{}, fmt.Errorf("unmarshal room %s: %w", roomID, err)
	}
	return domain.DecodeRoom(roomID, body)
}
