package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"musiguess/internal/domain"
)

// DocumentStore is an in-memory implementation of app.DocumentStore. Each room is kept as
// a generic JSON document so patches behave exactly like they do against Redis.
type DocumentStore struct {
	mu   sync.Mutex
	docs map[string]*document
}

type document struct {
	body        map[string]any
	subscribers map[chan domain.Room]struct{}
}

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		docs: make(map[string]*document),
	}
}

func (s *DocumentStore) CreateIfAbsent(_ context.Context, room domain.Room) error {
	body, err := domain.EncodeRoom(room)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[room.ID]; ok {
		return domain.ErrRoomExists
	}
	s.docs[room.ID] = &document{
		body:        body,
		subscribers: make(map[chan domain.Room]struct{}),
	}
	return nil
}

func (s *DocumentStore) Get(_ context.Context, roomID string) (domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[roomID]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return domain.DecodeRoom(roomID, doc.body)
}

func (s *DocumentStore) Patch(ctx context.Context, roomID string, patch domain.Patch) error {
	return s.Update(ctx, roomID, func(domain.Room) (domain.Patch, error) {
		return patch, nil
	})
}

// Update applies fn's patch under the store lock and notifies subscribers. A patch that
// fails to apply or leaves an undecodable document is rejected without changing the room.
func (s *DocumentStore) Update(_ context.Context, roomID string, fn func(domain.Room) (domain.Patch, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	current, err := domain.DecodeRoom(roomID, doc.body)
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

	working, err := cloneBody(doc.body)
	if err != nil {
		return err
	}
	next, err := domain.ApplyPatch(working, patch)
	if err != nil {
		return err
	}
	room, err := domain.DecodeRoom(roomID, next)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPatch, err)
	}
	doc.body = next
	doc.broadcastLocked(room)
	return nil
}

// Subscribe returns a channel that always holds the latest snapshot, starting with the
// current one. The subscription ends when cancel is called or ctx is done.
func (s *DocumentStore) Subscribe(ctx context.Context, roomID string) (<-chan domain.Room, func(), error) {
	s.mu.Lock()
	doc, ok := s.docs[roomID]
	if !ok {
		s.mu.Unlock()
		return nil, nil, domain.ErrRoomNotFound
	}
	initial, err := domain.DecodeRoom(roomID, doc.body)
	if err != nil {
		s.mu.Unlock()
		return nil, nil, err
	}
	ch := make(chan domain.Room, 1)
	ch <- initial
	doc.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	remove := func() {
		once.Do(func() {
			s.mu.Lock()
			if _, ok := doc.subscribers[ch]; ok {
				delete(doc.subscribers, ch)
				close(ch)
			}
			s.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, remove)
	cancel := func() {
		stop()
		remove()
	}
	return ch, cancel, nil
}

func (d *document) broadcastLocked(room domain.Room) {
	for ch := range d.subscribers {
		select {
		case ch <- room:
		default:
			// drop the undelivered snapshot; only the latest matters
			select {
			case <-ch:
			default:
			}
			ch <- room
		}
	}
}

func cloneBody(body map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("clone document: %w", err)
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("clone document: %w", err)
	}
	return out, nil
}
